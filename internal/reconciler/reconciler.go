// Package reconciler turns verified payment notifications into orders.
//
// An order is keyed by its payment reference and created in the same store
// transaction that checks for an existing order and decrements stock, so
// duplicate or concurrent deliveries for one reference create exactly one
// order. Fulfillment runs after the commit and never undoes it.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/imrishuroy/bookstore-orderflow/internal/orders"
	"github.com/imrishuroy/bookstore-orderflow/internal/paystack"
	"github.com/imrishuroy/bookstore-orderflow/internal/store"
)

// Metric names
const (
	MetricOrderCreated      = "OrderCreated"
	MetricOrderDuplicate    = "OrderDuplicate"
	MetricInsufficientStock = "InsufficientStock"
	MetricBookNotFound      = "BookNotFound"
	MetricSignatureRejected = "SignatureRejected"
	MetricFulfillmentFailed = "FulfillmentFailed"
)

// Outcome classifies a successfully handled notification.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Result of handling one notification. FulfillmentErr is set when the order
// committed but dispatch failed.
type Result struct {
	Outcome        Outcome
	Order          *orders.Order
	FulfillmentErr error
}

// Fulfiller runs the post-commit effects of an order.
type Fulfiller interface {
	Fulfill(ctx context.Context, order *orders.Order) error
}

// Counter records metric occurrences.
type Counter interface {
	Count(ctx context.Context, name string, n int)
}

type nopCounter struct{}

func (nopCounter) Count(context.Context, string, int) {}

// Config wires a Reconciler.
type Config struct {
	Docs          store.DocumentStore
	WebhookSecret string
	Fulfiller     Fulfiller
	Metrics       Counter
	Logger        *slog.Logger
}

type Reconciler struct {
	docs      store.DocumentStore
	secret    string
	fulfiller Fulfiller
	metrics   Counter
	logger    *slog.Logger
	nowFunc   func() time.Time
}

func New(cfg Config) *Reconciler {
	r := &Reconciler{
		docs:      cfg.Docs,
		secret:    cfg.WebhookSecret,
		fulfiller: cfg.Fulfiller,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		nowFunc:   time.Now,
	}
	if r.metrics == nil {
		r.metrics = nopCounter{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// HandleWebhook authenticates a raw webhook body and reconciles it. The
// signature is checked before the body is parsed or the store is touched.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte, signature string) (*Result, error) {
	if err := paystack.VerifySignature(r.secret, body, signature); err != nil {
		r.metrics.Count(ctx, MetricSignatureRejected, 1)
		r.logger.WarnContext(ctx, "webhook signature rejected")
		return nil, ErrInvalidSignature
	}

	var ev paystack.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", ErrValidation, err)
	}
	if ev.Event != paystack.EventChargeSuccess {
		r.logger.InfoContext(ctx, "webhook event ignored", "event", ev.Event)
		return &Result{Outcome: OutcomeIgnored}, nil
	}
	return r.Reconcile(ctx, ev.Data)
}

// Reconcile creates the order for a successful charge exactly once.
func (r *Reconciler) Reconcile(ctx context.Context, charge paystack.Charge) (*Result, error) {
	ref := strings.TrimSpace(charge.Reference)
	if ref == "" {
		return nil, fmt.Errorf("%w: missing payment reference", ErrValidation)
	}
	logger := r.logger.With("reference", ref)

	// Fast path for provider retries. The transaction re-checks.
	existing, err := r.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return r.duplicate(ctx, logger, existing), nil
	}

	req, err := parseRequest(ref, charge)
	if err != nil {
		return nil, err
	}

	title := req.title
	if title == "" && !req.delivery.InventoryBacked() {
		title = r.bookTitle(ctx, logger, req.bookID)
	}

	now := r.nowFunc().UTC()
	var created *orders.Order
	err = r.docs.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var prior orders.Order
		found, err := tx.Get(ctx, orders.Key(ref), &prior)
		if err != nil {
			return err
		}
		if found {
			existing = &prior
			return ErrDuplicateOrder
		}

		itemTitle := title
		if req.delivery.InventoryBacked() {
			var book orders.Book
			found, err := tx.Get(ctx, orders.BookKey(req.bookID), &book)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%w: %s", ErrBookNotFound, req.bookID)
			}
			if book.Stock < int64(req.quantity) {
				return fmt.Errorf("%w: book %s has %d, requested %d", ErrInsufficientStock, req.bookID, book.Stock, req.quantity)
			}
			err = tx.Update(orders.BookKey(req.bookID), store.Mutation{
				Increment: map[string]int64{"stock": -int64(req.quantity)},
			})
			if err != nil {
				return err
			}
			if itemTitle == "" {
				itemTitle = book.Title
			}
		}

		o := req.order(now, itemTitle)
		if err := tx.Create(orders.Key(ref), o); err != nil {
			return err
		}
		created = o
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateOrder):
		return r.duplicate(ctx, logger, existing), nil
	case errors.Is(err, store.ErrAlreadyExists):
		o, lerr := r.lookup(ctx, ref)
		if lerr != nil {
			logger.WarnContext(ctx, "load duplicate order failed", "err", lerr)
		}
		return r.duplicate(ctx, logger, o), nil
	case errors.Is(err, ErrBookNotFound):
		r.metrics.Count(ctx, MetricBookNotFound, 1)
		logger.WarnContext(ctx, "order rejected", "book_id", req.bookID, "err", err)
		return nil, err
	case errors.Is(err, ErrInsufficientStock):
		r.metrics.Count(ctx, MetricInsufficientStock, 1)
		logger.WarnContext(ctx, "order rejected", "book_id", req.bookID, "err", err)
		return nil, err
	default:
		logger.ErrorContext(ctx, "create order failed", "err", err)
		return nil, fmt.Errorf("create order %s: %w", ref, err)
	}

	r.metrics.Count(ctx, MetricOrderCreated, 1)
	logger.InfoContext(ctx, "order created",
		"book_id", req.bookID,
		"quantity", req.quantity,
		"delivery_mode", req.delivery.Mode())

	res := &Result{Outcome: OutcomeCreated, Order: created}
	if r.fulfiller != nil {
		if err := r.fulfiller.Fulfill(ctx, created); err != nil {
			r.metrics.Count(ctx, MetricFulfillmentFailed, 1)
			logger.ErrorContext(ctx, "fulfillment failed", "err", err)
			res.FulfillmentErr = err
		}
	}
	return res, nil
}

func (r *Reconciler) duplicate(ctx context.Context, logger *slog.Logger, o *orders.Order) *Result {
	r.metrics.Count(ctx, MetricOrderDuplicate, 1)
	logger.InfoContext(ctx, "order already processed")
	return &Result{Outcome: OutcomeDuplicate, Order: o}
}

func (r *Reconciler) lookup(ctx context.Context, ref string) (*orders.Order, error) {
	var o orders.Order
	found, err := r.docs.Get(ctx, orders.Key(ref), &o)
	if err != nil {
		return nil, fmt.Errorf("lookup order %s: %w", ref, err)
	}
	if !found {
		return nil, nil
	}
	return &o, nil
}

// bookTitle is best-effort: digital orders do not depend on the catalog
// record at creation time.
func (r *Reconciler) bookTitle(ctx context.Context, logger *slog.Logger, bookID string) string {
	var b orders.Book
	found, err := r.docs.Get(ctx, orders.BookKey(bookID), &b)
	if err != nil {
		logger.WarnContext(ctx, "book lookup failed", "book_id", bookID, "err", err)
		return ""
	}
	if !found {
		logger.WarnContext(ctx, "digital order for unknown book", "book_id", bookID)
		return ""
	}
	return b.Title
}
