// Package retry provides the backoff policy used for remote calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrExhausted is returned (wrapped around the last error) when every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy describes how many times to try and how long to wait in between.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter disables the +/-25% randomisation when false. Tests turn it off.
	Jitter bool
	// OnRetry, if set, is called before sleeping for the given attempt.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Default is three attempts starting at half a second.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, Jitter: true}
}

// Backoff returns the wait before retry number attempt (1-based): base * 2^(attempt-1),
// capped at MaxDelay, with optional jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	backoff := p.BaseDelay * time.Duration(1<<uint(attempt-1))
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if backoff > maxDelay || backoff <= 0 {
		backoff = maxDelay
	}
	if p.Jitter && backoff >= 4 {
		jitter := time.Duration(rand.Int64N(int64(backoff)/2)) - backoff/4
		backoff += jitter
	}
	return backoff
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs fn until it succeeds, returns a permanent error, the context ends
// or MaxAttempts is reached. A permanent error is returned still marked, so
// callers further up can tell it from an exhausted one with IsPermanent.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}
