// Package fulfillment runs the effects that follow a committed order:
// download links for digital purchases, shipment requests for physical
// ones, and the customer aggregate.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/imrishuroy/bookstore-orderflow/internal/downloads"
	"github.com/imrishuroy/bookstore-orderflow/internal/orders"
)

// ErrNoDigitalFile means a digital order references a book with nothing to download.
var ErrNoDigitalFile = errors.New("no digital file attached")

// BookReader loads catalog items. Returns (nil, nil) when missing.
type BookReader interface {
	GetBook(ctx context.Context, bookID string) (*orders.Book, error)
}

// LinkIssuer mints download links.
type LinkIssuer interface {
	Issue(g downloads.Grant) (*downloads.Link, error)
}

// CustomerRecorder updates the customer aggregate for an order.
type CustomerRecorder interface {
	Record(ctx context.Context, o *orders.Order) error
}

// Dispatcher fulfills orders inline.
type Dispatcher struct {
	books     BookReader
	links     LinkIssuer
	mailer    Mailer
	customers CustomerRecorder
	logger    *slog.Logger
}

func NewDispatcher(books BookReader, links LinkIssuer, mailer Mailer, customers CustomerRecorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		books:     books,
		links:     links,
		mailer:    mailer,
		customers: customers,
		logger:    logger,
	}
}

// Fulfill runs every effect for o. A failing customer update is logged and
// does not stop delivery; delivery failures are returned.
func (d *Dispatcher) Fulfill(ctx context.Context, o *orders.Order) error {
	logger := d.logger.With("reference", o.PaymentReference, "order_id", o.ID)

	if d.customers != nil {
		if err := d.customers.Record(ctx, o); err != nil {
			logger.WarnContext(ctx, "customer aggregate update failed", "err", err)
		}
	}

	switch delivery := o.Delivery().(type) {
	case orders.Digital:
		return d.deliverDigital(ctx, logger, o)
	case orders.Physical:
		return d.requestShipment(ctx, logger, o, delivery)
	default:
		return fmt.Errorf("unsupported delivery mode %q", o.DeliveryMode)
	}
}

func (d *Dispatcher) deliverDigital(ctx context.Context, logger *slog.Logger, o *orders.Order) error {
	var (
		links []linkView
		errs  []error
	)
	for _, item := range o.Items {
		link, err := d.issueLink(ctx, o, item)
		if err != nil {
			logger.ErrorContext(ctx, "download link not issued", "book_id", item.BookID, "err", err)
			errs = append(errs, err)
			continue
		}
		links = append(links, *link)
	}
	if len(links) == 0 {
		return errors.Join(errs...)
	}

	msg, err := renderDigital(o, links)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	if err := d.mailer.Send(ctx, msg); err != nil {
		logger.ErrorContext(ctx, "download email failed", "err", err)
		return errors.Join(append(errs, err)...)
	}
	logger.InfoContext(ctx, "download email sent", "links", len(links))
	return errors.Join(errs...)
}

func (d *Dispatcher) issueLink(ctx context.Context, o *orders.Order, item orders.LineItem) (*linkView, error) {
	book, err := d.books.GetBook(ctx, item.BookID)
	if err != nil {
		return nil, fmt.Errorf("load book %s: %w", item.BookID, err)
	}
	if book == nil || !book.HasDigitalFile() {
		return nil, fmt.Errorf("%w: book %s", ErrNoDigitalFile, item.BookID)
	}

	link, err := d.links.Issue(downloads.Grant{
		FileID:   book.DigitalFile.ID,
		FileName: book.DigitalFile.Name,
		BookID:   book.ID,
		OrderRef: o.PaymentReference,
	})
	if err != nil {
		return nil, fmt.Errorf("issue link for %s: %w", item.BookID, err)
	}

	title := item.Title
	if title == "" {
		title = book.Title
	}
	return &linkView{Title: title, URL: link.URL, Expires: formatExpiry(link.ExpiresAt)}, nil
}

// requestShipment records the shipment. There is no carrier integration;
// operators move the order to Shipped and Delivered.
func (d *Dispatcher) requestShipment(ctx context.Context, logger *slog.Logger, o *orders.Order, p orders.Physical) error {
	logger.InfoContext(ctx, "shipment requested",
		"address", p.Address(),
		"items", len(o.Items),
		"shipping_status", o.ShippingStatus)

	msg, err := renderPhysical(o)
	if err != nil {
		return err
	}
	if err := d.mailer.Send(ctx, msg); err != nil {
		logger.ErrorContext(ctx, "order confirmation email failed", "err", err)
		return err
	}
	return nil
}
