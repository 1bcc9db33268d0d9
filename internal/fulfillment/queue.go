package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/imrishuroy/bookstore-orderflow/internal/orders"
)

// Message is the payload sent from API -> SQS -> worker.
type Message struct {
	Reference    string      `json:"reference"`
	DeliveryMode orders.Mode `json:"delivery_mode"`
}

// Publisher sends a message body with string attributes.
type Publisher interface {
	SendMessage(ctx context.Context, body string, attributes map[string]string) error
}

// QueueDispatcher hands orders to the fulfillment worker instead of running
// effects in the request.
type QueueDispatcher struct {
	publisher Publisher
}

func NewQueueDispatcher(p Publisher) *QueueDispatcher {
	return &QueueDispatcher{publisher: p}
}

func (q *QueueDispatcher) Fulfill(ctx context.Context, o *orders.Order) error {
	body, err := json.Marshal(Message{Reference: o.PaymentReference, DeliveryMode: o.DeliveryMode})
	if err != nil {
		return fmt.Errorf("marshal fulfillment message: %w", err)
	}
	err = q.publisher.SendMessage(ctx, string(body), map[string]string{
		"reference":     o.PaymentReference,
		"delivery_mode": string(o.DeliveryMode),
	})
	if err != nil {
		return fmt.Errorf("enqueue fulfillment for %s: %w", o.PaymentReference, err)
	}
	return nil
}
