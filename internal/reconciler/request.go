package reconciler

import (
	"fmt"
	"strings"
	"time"

	"github.com/imrishuroy/bookstore-orderflow/internal/orders"
	"github.com/imrishuroy/bookstore-orderflow/internal/paystack"
)

// orderRequest is a charge validated into what the transaction needs.
type orderRequest struct {
	reference string
	bookID    string
	title     string
	quantity  int
	delivery  orders.Delivery
	name      string
	email     string
	phone     string
	amount    int64
	currency  string
}

func parseRequest(ref string, c paystack.Charge) (*orderRequest, error) {
	md := c.Metadata
	var missing []string
	bookID := strings.TrimSpace(md.BookID)
	if bookID == "" {
		missing = append(missing, "bookId")
	}
	email := c.CustomerEmail()
	if email == "" {
		missing = append(missing, "email")
	}
	name := c.CustomerName()
	if name == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}

	delivery, err := orders.ParseDelivery(md.PurchaseFormat, md.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	return &orderRequest{
		reference: ref,
		bookID:    bookID,
		title:     strings.TrimSpace(md.Title),
		quantity:  delivery.Quantity(orders.ParseQuantity(string(md.Quantity))),
		delivery:  delivery,
		name:      name,
		email:     email,
		phone:     c.CustomerPhone(),
		amount:    c.Amount,
		currency:  c.Currency,
	}, nil
}

func (q *orderRequest) order(now time.Time, title string) *orders.Order {
	return &orders.Order{
		ID:               q.reference,
		PaymentReference: q.reference,
		CustomerName:     q.name,
		Email:            q.email,
		Phone:            q.phone,
		Items: []orders.LineItem{
			{BookID: q.bookID, Title: title, Quantity: q.quantity},
		},
		TotalAmount:     q.amount,
		Currency:        q.currency,
		PaymentStatus:   orders.PaymentPaid,
		ShippingStatus:  q.delivery.InitialShippingStatus(),
		DeliveryMode:    q.delivery.Mode(),
		ShippingAddress: q.delivery.Address(),
		CreatedAt:       now.Format(time.RFC3339),
		ServerTimestamp: now,
		UpdatedAt:       now,
	}
}
