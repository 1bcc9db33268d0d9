package reconciler

import (
	"errors"

	"github.com/imrishuroy/bookstore-orderflow/internal/paystack"
)

var (
	// ErrInvalidSignature rejects webhooks whose HMAC does not match.
	ErrInvalidSignature = paystack.ErrInvalidSignature
	// ErrValidation marks payloads missing the fields an order needs.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock aborts a physical order that would oversell.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrBookNotFound aborts a physical order for an unknown book.
	ErrBookNotFound = errors.New("book not found")
	// ErrDuplicateOrder means an order already exists for the reference.
	// It never escapes Reconcile; duplicates are reported as OutcomeDuplicate.
	ErrDuplicateOrder = errors.New("order already processed")
)
