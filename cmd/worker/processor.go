package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/bookstore-orderflow/internal/fulfillment"
	"github.com/imrishuroy/bookstore-orderflow/internal/orders"
)

// OrderLoader reads orders by payment reference.
type OrderLoader interface {
	Get(ctx context.Context, reference string) (*orders.Order, error)
}

// Fulfiller runs the effects of a committed order.
type Fulfiller interface {
	Fulfill(ctx context.Context, o *orders.Order) error
}

// Processor handles SQS messages queued by the API after an order commits.
type Processor struct {
	orders    OrderLoader
	fulfiller Fulfiller
	logger    *slog.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(loader OrderLoader, fulfiller Fulfiller, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{orders: loader, fulfiller: fulfiller, logger: logger}
}

// Handle processes a batch and reports only the failed records, so SQS
// retries those and eventually moves them to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.ErrorContext(ctx, "fulfillment message failed", "message_id", rec.MessageId, "err", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg fulfillment.Message
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil || msg.Reference == "" {
		// retrying cannot fix a malformed body
		p.logger.ErrorContext(ctx, "dropping malformed fulfillment message", "message_id", rec.MessageId, "err", err)
		return nil
	}

	logger := p.logger.With("reference", msg.Reference, "message_id", rec.MessageId)
	logger.InfoContext(ctx, "fulfillment message received", "receive_count", rec.Attributes["ApproximateReceiveCount"])

	order, err := p.orders.Get(ctx, msg.Reference)
	if err != nil {
		return fmt.Errorf("fetch order: %w", err)
	}
	if order == nil {
		// the API enqueues only after commit; DLQ if it does happen
		return fmt.Errorf("order not found: %s", msg.Reference)
	}

	if err := p.fulfiller.Fulfill(ctx, order); err != nil {
		return fmt.Errorf("fulfill order %s: %w", msg.Reference, err)
	}
	logger.InfoContext(ctx, "order fulfilled", "delivery_mode", order.DeliveryMode)
	return nil
}
