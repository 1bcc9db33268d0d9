package paystack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Event types
const (
	EventChargeSuccess = "charge.success"
)

// Transaction statuses returned by verify.
const (
	StatusSuccess = "success"
)

// Event is the webhook envelope.
type Event struct {
	Event string `json:"event"`
	Data  Charge `json:"data"`
}

// Charge is a transaction as seen in webhooks and verify responses.
type Charge struct {
	ID        int64    `json:"id,omitempty"`
	Reference string   `json:"reference"`
	Amount    int64    `json:"amount"` // minor units
	Currency  string   `json:"currency,omitempty"`
	Status    string   `json:"status,omitempty"`
	PaidAt    string   `json:"paid_at,omitempty"`
	Customer  Customer `json:"customer"`
	Metadata  Metadata `json:"metadata"`
}

type Customer struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Metadata is what the storefront attaches at checkout.
type Metadata struct {
	BookID         string     `json:"bookId,omitempty"`
	Name           string     `json:"name,omitempty"`
	Email          string     `json:"email,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	PurchaseFormat string     `json:"purchaseFormat,omitempty"`
	Quantity       FlexString `json:"quantity,omitempty"`
	Address        string     `json:"address,omitempty"`
	Title          string     `json:"title,omitempty"`
}

// UnmarshalJSON accepts an object, a JSON-encoded string holding an object,
// an empty string, or null. The provider echoes metadata in whichever form
// it was submitted.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = Metadata{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*m = Metadata{}
			return nil
		}
		data = []byte(s)
	}
	type plain Metadata
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	*m = Metadata(p)
	return nil
}

// FlexString decodes from either a JSON string or a JSON number.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected string or number: %w", err)
		}
		*f = FlexString(n.String())
	}
	return nil
}

// CustomerEmail prefers the checkout form over the provider's customer record.
func (c Charge) CustomerEmail() string {
	if e := strings.TrimSpace(c.Metadata.Email); e != "" {
		return strings.ToLower(e)
	}
	return strings.ToLower(strings.TrimSpace(c.Customer.Email))
}

// CustomerName prefers the checkout form over the provider's customer record.
func (c Charge) CustomerName() string {
	if n := strings.TrimSpace(c.Metadata.Name); n != "" {
		return n
	}
	return strings.TrimSpace(c.Customer.FirstName + " " + c.Customer.LastName)
}

// CustomerPhone prefers the checkout form over the provider's customer record.
func (c Charge) CustomerPhone() string {
	if p := strings.TrimSpace(c.Metadata.Phone); p != "" {
		return p
	}
	return strings.TrimSpace(c.Customer.Phone)
}
