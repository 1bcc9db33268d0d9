// Package app wires configuration into the services shared by the API and
// the fulfillment worker.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/imrishuroy/bookstore-orderflow/internal/aws"
	"github.com/imrishuroy/bookstore-orderflow/internal/config"
	"github.com/imrishuroy/bookstore-orderflow/internal/downloads"
	"github.com/imrishuroy/bookstore-orderflow/internal/fulfillment"
	"github.com/imrishuroy/bookstore-orderflow/internal/handlers"
	"github.com/imrishuroy/bookstore-orderflow/internal/idempotency"
	"github.com/imrishuroy/bookstore-orderflow/internal/orders"
	"github.com/imrishuroy/bookstore-orderflow/internal/paystack"
	"github.com/imrishuroy/bookstore-orderflow/internal/reconciler"
	"github.com/imrishuroy/bookstore-orderflow/internal/store"
)

// App holds the wired services.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Docs        store.DocumentStore
	Orders      *orders.Store
	Dispatcher  *fulfillment.Dispatcher
	Reconciler  *reconciler.Reconciler
	Redeemer    *downloads.Redeemer
	Idempotency *idempotency.Store
	Payments    *paystack.Client
}

// NewLogger returns a text logger for local runs and JSON otherwise.
func NewLogger(runLocal bool) *slog.Logger {
	if runLocal {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// needsAWS reports whether any configured component talks to AWS.
func needsAWS(cfg *config.Config) bool {
	return cfg.Store.Backend == config.BackendDynamoDB ||
		cfg.Fulfill.QueueURL != "" ||
		cfg.Fulfill.MailFrom != "" ||
		cfg.Download.Bucket != ""
}

// New builds every service from cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	var clients *aws.AWSClients
	if needsAWS(cfg) {
		var err error
		clients, err = aws.NewAWSClients(ctx, cfg.AWS.Region, cfg.AWS.EndpointOverride)
		if err != nil {
			return nil, fmt.Errorf("init aws clients: %w", err)
		}
	}

	docs, err := newDocumentStore(cfg, clients)
	if err != nil {
		return nil, err
	}
	orderStore := orders.NewStore(docs)

	issuer := downloads.NewIssuer(cfg.Download.TokenSecret, cfg.Download.PublicBaseURL)
	var locator downloads.FileLocator = downloads.NewS3Locator(nil, "", cfg.Download.PresignTTL)
	if clients != nil && cfg.Download.Bucket != "" {
		locator = downloads.NewS3Locator(clients.S3Presign, cfg.Download.Bucket, cfg.Download.PresignTTL)
	}

	var mailer fulfillment.Mailer = fulfillment.NewLogMailer(logger)
	if clients != nil && cfg.Fulfill.MailFrom != "" {
		mailer = fulfillment.NewSESMailer(clients.SES, cfg.Fulfill.MailFrom)
	}

	dispatcher := fulfillment.NewDispatcher(orderStore, issuer, mailer, fulfillment.NewCustomerAggregator(docs), logger)

	var fulfiller reconciler.Fulfiller = dispatcher
	if clients != nil && cfg.Fulfill.QueueURL != "" {
		fulfiller = fulfillment.NewQueueDispatcher(aws.NewPublisher(clients.SQS, cfg.Fulfill.QueueURL))
	}

	var metrics reconciler.Counter
	if clients != nil && cfg.AWS.MetricsNamespace != "" {
		metrics = aws.NewMetrics(clients.CloudWatch, cfg.AWS.MetricsNamespace, logger)
	}

	return &App{
		Config:     cfg,
		Logger:     logger,
		Docs:       docs,
		Orders:     orderStore,
		Dispatcher: dispatcher,
		Reconciler: reconciler.New(reconciler.Config{
			Docs:          docs,
			WebhookSecret: cfg.Paystack.WebhookSecret,
			Fulfiller:     fulfiller,
			Metrics:       metrics,
			Logger:        logger,
		}),
		Redeemer:    downloads.NewRedeemer(issuer, orderStore, locator, logger),
		Idempotency: idempotency.NewStore(docs, cfg.Store.IdempotencyTTL),
		Payments:    paystack.NewClient(cfg.Paystack.BaseURL, cfg.Paystack.SecretKey, cfg.Paystack.Timeout),
	}, nil
}

// HandlerConfig returns the HTTP dependencies.
func (a *App) HandlerConfig() handlers.HandlerConfig {
	return handlers.HandlerConfig{
		Reconciler:     a.Reconciler,
		Payments:       a.Payments,
		Redeemer:       a.Redeemer,
		Orders:         a.Orders,
		Idempotency:    a.Idempotency,
		CallbackURL:    a.Config.Paystack.CallbackURL,
		AdminToken:     a.Config.Admin.APIToken,
		RateLimitRPS:   a.Config.Server.RateLimitRPS,
		RateLimitBurst: a.Config.Server.RateLimitBurst,
		Logger:         a.Logger,
	}
}

func newDocumentStore(cfg *config.Config, clients *aws.AWSClients) (store.DocumentStore, error) {
	opts := store.DefaultTxOptions()
	opts.MaxRetries = cfg.Store.MaxRetries

	switch cfg.Store.Backend {
	case config.BackendMemory:
		mem := store.NewMemoryStore(opts)
		if cfg.Store.SeedBooksFile != "" {
			if err := seedBooks(mem, cfg.Store.SeedBooksFile); err != nil {
				return nil, err
			}
		}
		return mem, nil
	case config.BackendDynamoDB:
		return store.NewDynamoStore(clients.DynamoDB, store.DynamoConfig{
			Tables: map[string]string{
				orders.CollectionOrders:    cfg.Store.OrdersTable,
				orders.CollectionBooks:     cfg.Store.BooksTable,
				orders.CollectionCustomers: cfg.Store.CustomersTable,
				idempotency.Collection:     cfg.Store.IdempotencyTable,
			},
			Indexes: map[string]string{
				orders.CollectionCustomers + ".email": cfg.Store.CustomersEmailIndex,
			},
			TxOptions: opts,
		}), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// seedBooks loads a JSON array of books into the memory store.
func seedBooks(mem *store.MemoryStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var books []orders.Book
	if err := json.Unmarshal(data, &books); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	for _, b := range books {
		if err := mem.Put(orders.BookKey(b.ID), b); err != nil {
			return fmt.Errorf("seed book %s: %w", b.ID, err)
		}
	}
	return nil
}
