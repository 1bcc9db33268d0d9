// Package store provides a small transactional document store.
//
// Documents live in collections and are addressed by Key. A transaction is a
// closure that reads documents and buffers writes through a Tx; the writes
// are committed atomically only if none of the documents it read changed in
// the meantime. A lost race surfaces as ErrConflict and the closure is run
// again, so closures must be free of side effects other than Tx calls.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConflict means a concurrent transaction modified a document this
	// transaction read. RunTransaction retries on it.
	ErrConflict = errors.New("transaction conflict")
	// ErrAlreadyExists is returned by Create when the key is taken.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrNotFound is returned by Update when the document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidKey rejects keys with an empty collection or id.
	ErrInvalidKey = errors.New("invalid key")
)

// Reserved attribute names managed by the store.
const (
	AttrID      = "id"
	AttrVersion = "version"
)

// Key addresses one document.
type Key struct {
	Collection string
	ID         string
}

func (k Key) String() string { return k.Collection + "/" + k.ID }

func (k Key) validate() error {
	if k.Collection == "" || k.ID == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, k.String())
	}
	return nil
}

// Mutation is a partial update. Increment adds deltas to numeric fields
// (missing fields count as zero); Set overwrites fields.
type Mutation struct {
	Increment map[string]int64
	Set       map[string]any
}

func (m Mutation) empty() bool { return len(m.Increment) == 0 && len(m.Set) == 0 }

// Tx is the capability handed to a transaction closure.
type Tx interface {
	// Get decodes the document at key into out and reports whether it exists.
	Get(ctx context.Context, key Key, out any) (bool, error)
	// Create writes doc at key; the commit fails with ErrAlreadyExists if it is taken.
	Create(key Key, doc any) error
	// Set replaces a document previously read in the same transaction.
	Set(key Key, doc any) error
	// Update applies a partial mutation to an existing document.
	Update(key Key, m Mutation) error
}

// TxFunc is a transaction body. Returning an error aborts with no writes.
type TxFunc func(ctx context.Context, tx Tx) error

// DocumentStore is implemented by DynamoStore and MemoryStore.
type DocumentStore interface {
	// Get is a strongly consistent, non-transactional read.
	Get(ctx context.Context, key Key, out any) (bool, error)
	// FindOne returns the first document in collection whose field equals value.
	FindOne(ctx context.Context, collection, field, value string, out any) (bool, error)
	// RunTransaction runs fn atomically, retrying it on ErrConflict.
	RunTransaction(ctx context.Context, fn TxFunc) error
}
