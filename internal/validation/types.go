package validation

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/bookstore-orderflow/internal/paystack"
)

// CheckoutMetadata is what the storefront attaches to a payment.
type CheckoutMetadata struct {
	PurchaseFormat string `json:"purchaseFormat,omitempty" validate:"omitempty,oneof=digital ebook physical hardcopy paperback"`
	Quantity       int    `json:"quantity,omitempty" validate:"omitempty,min=1,max=100"`
	Address        string `json:"address,omitempty" validate:"max=500"`
	Phone          string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Title          string `json:"title,omitempty" validate:"max=300"`
}

// InitiatePaymentRequest is the payload for POST /payments/initiate.
// Amount is in major units (naira) and may be sent as a number or a string.
type InitiatePaymentRequest struct {
	Email    string           `json:"email" validate:"required,email"`
	Name     string           `json:"name" validate:"required,max=200"`
	BookID   string           `json:"bookId" validate:"required,max=128"`
	Amount   decimal.Decimal  `json:"amount"`
	Currency string           `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	Metadata CheckoutMetadata `json:"metadata"`
}

// ProviderMetadata converts the request into the metadata echoed back by
// the provider on webhooks and verification.
func (r InitiatePaymentRequest) ProviderMetadata() *paystack.Metadata {
	md := &paystack.Metadata{
		BookID:         r.BookID,
		Name:           r.Name,
		Email:          r.Email,
		Phone:          r.Metadata.Phone,
		PurchaseFormat: r.Metadata.PurchaseFormat,
		Address:        r.Metadata.Address,
		Title:          r.Metadata.Title,
	}
	if r.Metadata.Quantity > 0 {
		md.Quantity = paystack.FlexString(strconv.Itoa(r.Metadata.Quantity))
	}
	return md
}

// VerifyPaymentRequest is the payload for POST /payments/verify. Metadata
// fills in fields the provider did not echo back.
type VerifyPaymentRequest struct {
	Reference string             `json:"reference" validate:"required,max=100"`
	Metadata  *paystack.Metadata `json:"metadata,omitempty"`
}

// UpdateShippingStatusRequest is the payload for the operator status endpoint.
type UpdateShippingStatusRequest struct {
	Status   string `json:"status" validate:"required,oneof=Processing Shipped Delivered Cancelled"`
	Expected string `json:"expected,omitempty" validate:"omitempty,oneof=Processing Shipped Delivered Cancelled"`
}
