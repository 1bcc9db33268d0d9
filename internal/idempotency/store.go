package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/bookstore-orderflow/internal/store"
)

// ErrKeyReused means an Idempotency-Key was replayed with a different request body.
var ErrKeyReused = errors.New("idempotency key reused with a different request")

// Store encapsulates idempotency operations on the document store.
type Store struct {
	docs      store.DocumentStore
	ttlWindow time.Duration // default TTL window when creating entries
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// ttlWindow: how long a key is remembered (e.g., 48*time.Hour). DynamoDB
// TTL on expires_at removes old entries; expired ones are also ignored here
// since TTL deletion lags.
func NewStore(docs store.DocumentStore, ttlWindow time.Duration) *Store {
	return &Store{
		docs:      docs,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// HashRequest fingerprints a request body.
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func recordKey(key string) store.Key {
	return store.Key{Collection: Collection, ID: key}
}

// CreateIfNotExists claims key with status IN_PROGRESS.
// Returns (true, nil) if the caller now owns the key. Returns (false, nil)
// if a live record already exists (caller should Get to inspect). A FAILED
// or expired record is taken over. ErrKeyReused is returned when the live
// record was made for a different request.
func (s *Store) CreateIfNotExists(ctx context.Context, key, requestHash string) (bool, error) {
	var created bool
	err := s.docs.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		created = false
		now := s.nowFunc().UTC()
		rec := IdempotencyRecord{
			IdempotencyKey: key,
			Status:         StatusInProgress,
			RequestHash:    requestHash,
			CreatedAt:      now,
			UpdatedAt:      now,
			ExpiresAt:      now.Add(s.ttlWindow).Unix(),
		}

		var existing IdempotencyRecord
		found, err := tx.Get(ctx, recordKey(key), &existing)
		if err != nil {
			return err
		}
		if found && !existing.expired(now) {
			if existing.RequestHash != "" && existing.RequestHash != requestHash {
				return ErrKeyReused
			}
			if existing.Status != StatusFailed {
				return nil
			}
		}
		created = true
		return tx.Set(recordKey(key), rec)
	})
	if err != nil {
		if errors.Is(err, ErrKeyReused) {
			return false, err
		}
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return created, nil
}

// Get retrieves a live idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	found, err := s.docs.Get(ctx, recordKey(key), &rec)
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	if !found || rec.expired(s.nowFunc()) {
		return nil, nil
	}
	return &rec, nil
}

// MarkDone sets status to DONE and stores the response to replay.
func (s *Store) MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error {
	return s.update(ctx, key, map[string]any{
		"status":          StatusDone,
		"response_body":   responseBody,
		"response_status": responseStatus,
	})
}

// MarkFailed marks the record FAILED so the client may retry with the same key.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	return s.update(ctx, key, map[string]any{
		"status": StatusFailed,
		"note":   note,
	})
}

func (s *Store) update(ctx context.Context, key string, fields map[string]any) error {
	fields["updated_at"] = s.nowFunc().UTC()
	err := s.docs.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Update(recordKey(key), store.Mutation{Set: fields})
	})
	if err != nil {
		return fmt.Errorf("update idempotency record (%v): %w", fields["status"], err)
	}
	return nil
}
