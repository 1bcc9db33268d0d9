package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/bookstore-orderflow/internal/store"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusMismatch means the order is not in the expected status.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrInvalidTransition rejects shipping status changes the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid shipping status transition")
)

var transitions = map[string][]string{
	ShippingProcessing: {ShippingShipped, ShippingDelivered, ShippingCancelled},
	ShippingShipped:    {ShippingDelivered},
}

// CanTransition reports whether from -> to is an allowed shipping status change.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Store encapsulates read and operator operations on orders and books.
type Store struct {
	docs    store.DocumentStore
	nowFunc func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(docs store.DocumentStore) *Store {
	return &Store{
		docs:    docs,
		nowFunc: time.Now,
	}
}

// Get fetches an order by payment reference. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, reference string) (*Order, error) {
	var o Order
	found, err := s.docs.Get(ctx, Key(reference), &o)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &o, nil
}

// GetBook fetches a catalog item. Returns (nil, nil) if not found.
func (s *Store) GetBook(ctx context.Context, bookID string) (*Book, error) {
	var b Book
	found, err := s.docs.Get(ctx, BookKey(bookID), &b)
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &b, nil
}

// UpdateShippingStatus moves an order from expected to next. An empty
// expected status accepts whatever the order currently has.
func (s *Store) UpdateShippingStatus(ctx context.Context, reference, expected, next string) (*Order, error) {
	var updated Order
	err := s.docs.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var o Order
		found, err := tx.Get(ctx, Key(reference), &o)
		if err != nil {
			return err
		}
		if !found {
			return ErrOrderNotFound
		}
		if expected != "" && o.ShippingStatus != expected {
			return fmt.Errorf("%w: order is %s", ErrStatusMismatch, o.ShippingStatus)
		}
		if !CanTransition(o.ShippingStatus, next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.ShippingStatus, next)
		}

		now := s.nowFunc().UTC()
		o.ShippingStatus = next
		o.UpdatedAt = now
		updated = o
		return tx.Update(Key(reference), store.Mutation{Set: map[string]any{
			"shipping_status": next,
			"updated_at":      now,
		}})
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
