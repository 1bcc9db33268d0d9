package orders

import (
	"time"

	"github.com/imrishuroy/bookstore-orderflow/internal/store"
)

// Collections in the document store.
const (
	CollectionOrders    = "orders"
	CollectionBooks     = "books"
	CollectionCustomers = "customers"
)

// Payment statuses
const (
	PaymentPaid = "Paid"
)

// Shipping statuses
const (
	ShippingProcessing = "Processing"
	ShippingShipped    = "Shipped"
	ShippingDelivered  = "Delivered"
	ShippingCancelled  = "Cancelled"
)

// LineItem is one purchased book.
type LineItem struct {
	BookID   string `dynamodbav:"book_id" json:"bookId"`
	Title    string `dynamodbav:"title" json:"title"`
	Quantity int    `dynamodbav:"quantity" json:"quantity"`
}

// Order is keyed by the payment reference, so at most one exists per payment.
type Order struct {
	ID               string     `dynamodbav:"id" json:"id"`
	PaymentReference string     `dynamodbav:"payment_reference" json:"paymentReference"`
	CustomerName     string     `dynamodbav:"customer_name" json:"customerName"`
	Email            string     `dynamodbav:"email" json:"email"`
	Phone            string     `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	Items            []LineItem `dynamodbav:"items" json:"items"`
	TotalAmount      int64      `dynamodbav:"total_amount" json:"totalAmount"` // minor units (kobo)
	Currency         string     `dynamodbav:"currency,omitempty" json:"currency,omitempty"`
	PaymentStatus    string     `dynamodbav:"payment_status" json:"paymentStatus"`
	ShippingStatus   string     `dynamodbav:"shipping_status" json:"shippingStatus"`
	DeliveryMode     Mode       `dynamodbav:"delivery_mode" json:"deliveryMode"`
	ShippingAddress  string     `dynamodbav:"shipping_address" json:"shippingAddress"`
	CreatedAt        string     `dynamodbav:"created_at" json:"createdAt"` // RFC 3339, shown to customers
	ServerTimestamp  time.Time  `dynamodbav:"server_timestamp" json:"serverTimestamp"`
	UpdatedAt        time.Time  `dynamodbav:"updated_at" json:"updatedAt"`
	CustomerRecorded bool       `dynamodbav:"customer_recorded,omitempty" json:"-"`
}

// Delivery rebuilds the tagged delivery variant from the stored fields.
func (o *Order) Delivery() Delivery {
	if o.DeliveryMode == ModeDigital {
		return Digital{}
	}
	return Physical{ShippingAddress: o.ShippingAddress}
}

// DigitalFile is the downloadable artifact attached to a book. ObjectKey
// points into the downloads bucket; URL is used when the file is hosted elsewhere.
type DigitalFile struct {
	ID        string `dynamodbav:"id" json:"id"`
	Name      string `dynamodbav:"name" json:"name"`
	ObjectKey string `dynamodbav:"object_key,omitempty" json:"objectKey,omitempty"`
	URL       string `dynamodbav:"url,omitempty" json:"url,omitempty"`
}

// Book is a catalog item. Stock never goes negative.
type Book struct {
	ID          string       `dynamodbav:"id" json:"id"`
	Title       string       `dynamodbav:"title" json:"title"`
	Author      string       `dynamodbav:"author,omitempty" json:"author,omitempty"`
	Price       int64        `dynamodbav:"price" json:"price"`
	Stock       int64        `dynamodbav:"stock" json:"stock"`
	DigitalFile *DigitalFile `dynamodbav:"digital_file,omitempty" json:"digitalFile,omitempty"`
}

// HasDigitalFile reports whether a downloadable file is attached.
func (b *Book) HasDigitalFile() bool {
	return b.DigitalFile != nil && (b.DigitalFile.ObjectKey != "" || b.DigitalFile.URL != "")
}

// Customer aggregates a buyer's history. Email is the natural key but the
// document id is generated, so uniqueness is best-effort.
type Customer struct {
	ID         string    `dynamodbav:"id" json:"id"`
	Name       string    `dynamodbav:"name" json:"name"`
	Email      string    `dynamodbav:"email" json:"email"`
	OrderCount int64     `dynamodbav:"order_count" json:"orderCount"`
	TotalSpent int64     `dynamodbav:"total_spent" json:"totalSpent"`
	Address    string    `dynamodbav:"address,omitempty" json:"address,omitempty"`
	JoinedAt   time.Time `dynamodbav:"joined_at" json:"joinedAt"`
}

// Key returns the order document key for a payment reference.
func Key(reference string) store.Key {
	return store.Key{Collection: CollectionOrders, ID: reference}
}

// BookKey returns the catalog document key for a book.
func BookKey(bookID string) store.Key {
	return store.Key{Collection: CollectionBooks, ID: bookID}
}

// CustomerKey returns the customer document key.
func CustomerKey(id string) store.Key {
	return store.Key{Collection: CollectionCustomers, ID: id}
}
