package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/bookstore-orderflow/internal/orders"
	"github.com/imrishuroy/bookstore-orderflow/internal/store"
)

// CustomerAggregator keeps per-email order totals. The email lookup runs
// outside the write transaction, so two concurrent first orders from a new
// email can create two records. Orders remain the source of truth.
type CustomerAggregator struct {
	docs    store.DocumentStore
	nowFunc func() time.Time
	newID   func() string
}

func NewCustomerAggregator(docs store.DocumentStore) *CustomerAggregator {
	return &CustomerAggregator{
		docs:    docs,
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
}

// Record adds the order to its customer's totals, creating the customer on
// first purchase. Each order is counted once: the order document is marked
// in the same transaction, so redelivered fulfillments are no-ops here.
func (a *CustomerAggregator) Record(ctx context.Context, o *orders.Order) error {
	var c orders.Customer
	found, err := a.docs.FindOne(ctx, orders.CollectionCustomers, "email", o.Email, &c)
	if err != nil {
		return fmt.Errorf("find customer: %w", err)
	}
	if !found {
		c = orders.Customer{
			ID:         a.newID(),
			Name:       o.CustomerName,
			Email:      o.Email,
			OrderCount: 1,
			TotalSpent: o.TotalAmount,
			Address:    o.ShippingAddress,
			JoinedAt:   a.nowFunc().UTC(),
		}
	}

	orderKey := orders.Key(o.PaymentReference)
	err = a.docs.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var stored orders.Order
		ok, err := tx.Get(ctx, orderKey, &stored)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrNotFound, orderKey)
		}
		if stored.CustomerRecorded {
			return nil
		}
		if err := tx.Update(orderKey, store.Mutation{Set: map[string]any{"customer_recorded": true}}); err != nil {
			return err
		}

		if !found {
			return tx.Create(orders.CustomerKey(c.ID), c)
		}
		set := map[string]any{"name": o.CustomerName}
		if o.ShippingAddress != "" {
			set["address"] = o.ShippingAddress
		}
		return tx.Update(orders.CustomerKey(c.ID), store.Mutation{
			Increment: map[string]int64{"order_count": 1, "total_spent": o.TotalAmount},
			Set:       set,
		})
	})
	if err != nil {
		return fmt.Errorf("record customer for %s: %w", o.PaymentReference, err)
	}
	return nil
}
