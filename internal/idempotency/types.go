package idempotency

import "time"

// Collection holds idempotency records in the document store.
const Collection = "idempotency"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// IdempotencyRecord is the shape persisted per Idempotency-Key.
type IdempotencyRecord struct {
	IdempotencyKey string    `dynamodbav:"id"`
	Status         string    `dynamodbav:"status"`
	RequestHash    string    `dynamodbav:"request_hash"`
	ResponseBody   string    `dynamodbav:"response_body,omitempty"` // small responses only
	ResponseStatus int       `dynamodbav:"response_status,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}

func (r *IdempotencyRecord) expired(now time.Time) bool {
	return r.ExpiresAt > 0 && now.Unix() >= r.ExpiresAt
}
