package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// TxOptions tunes the conflict retry loop.
type TxOptions struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultTxOptions() TxOptions {
	return TxOptions{
		MaxRetries:     5,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// withRetry runs attempt until it succeeds, fails with something other than
// ErrConflict, or MaxRetries is exhausted.
func withRetry(ctx context.Context, opts TxOptions, attempt func(ctx context.Context) error) error {
	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = DefaultTxOptions().InitialBackoff
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultTxOptions().MaxBackoff
	}

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := attempt(ctx)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		if i >= opts.MaxRetries {
			return fmt.Errorf("max retries (%d) exceeded: %w", opts.MaxRetries, err)
		}

		jitter := time.Duration(rand.Int64N(int64(backoff/4) + 1))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
