package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/bookstore-orderflow/internal/app"
	"github.com/imrishuroy/bookstore-orderflow/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.RunLocal)
	slog.SetDefault(logger)

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to wire services", "err", err)
		os.Exit(1)
	}
	processor := NewProcessor(a.Orders, a.Dispatcher, logger)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"reference":"local-ref-1","delivery_mode":"digital"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: testBody}},
		}
		resp, _ := processor.Handle(context.Background(), event)
		if len(resp.BatchItemFailures) > 0 {
			logger.Error("local message failed")
			os.Exit(1)
		}
		return
	}

	lambda.Start(processor.Handle)
}
