package orders

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Mode is the persisted delivery mode.
type Mode string

const (
	ModeDigital  Mode = "digital"
	ModePhysical Mode = "physical"
)

var ErrUnknownFormat = errors.New("unknown purchase format")

// Delivery is either Digital or Physical.
type Delivery interface {
	Mode() Mode
	// Quantity normalizes a requested quantity for this delivery.
	Quantity(requested int) int
	// InitialShippingStatus is the status a freshly paid order starts in.
	InitialShippingStatus() string
	// Address is the shipping address, empty for digital delivery.
	Address() string
	// InventoryBacked reports whether fulfilling consumes stock.
	InventoryBacked() bool

	isDelivery()
}

// Digital orders are single-license downloads: one copy, no stock.
type Digital struct{}

func (Digital) Mode() Mode                    { return ModeDigital }
func (Digital) Quantity(int) int              { return 1 }
func (Digital) InitialShippingStatus() string { return ShippingDelivered }
func (Digital) Address() string               { return "" }
func (Digital) InventoryBacked() bool         { return false }
func (Digital) isDelivery()                   {}

// Physical orders ship a printed copy and draw down stock.
type Physical struct {
	ShippingAddress string
}

func (Physical) Mode() Mode { return ModePhysical }

func (Physical) Quantity(requested int) int {
	if requested < 1 {
		return 1
	}
	return requested
}

func (Physical) InitialShippingStatus() string { return ShippingProcessing }
func (p Physical) Address() string             { return p.ShippingAddress }
func (Physical) InventoryBacked() bool         { return true }
func (Physical) isDelivery()                   {}

// ParseDelivery maps the checkout purchase format onto a Delivery. An empty
// format means physical, the storefront default.
func ParseDelivery(format, address string) (Delivery, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "digital", "ebook":
		return Digital{}, nil
	case "", "physical", "hardcopy", "paperback":
		return Physical{ShippingAddress: strings.TrimSpace(address)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// ParseQuantity reads a requested quantity. Absent, non-numeric or values
// below one all mean one.
func ParseQuantity(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
