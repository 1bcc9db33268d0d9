package aws

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metrics publishes counters to CloudWatch. Publishing is best-effort:
// failures are logged and never returned to the caller.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	logger    *slog.Logger
	nowFunc   func() time.Time
}

// NewMetrics returns a CloudWatch-backed counter sink.
func NewMetrics(client CloudWatchAPI, namespace string, logger *slog.Logger) *Metrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Metrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Count records n occurrences of the named metric.
func (m *Metrics) Count(ctx context.Context, name string, n int) {
	value := float64(n)
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &m.namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: awsString(name),
				Value:      &value,
				Unit:       cwtypes.StandardUnitCount,
				Timestamp:  timePtr(m.nowFunc()),
			},
		},
	})
	if err != nil {
		m.logger.WarnContext(ctx, "put metric failed", "metric", name, "err", err)
	}
}

func timePtr(t time.Time) *time.Time { return &t }
