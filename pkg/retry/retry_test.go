package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	assert.Equal(t, time.Second, p.Backoff(5))
	assert.Equal(t, time.Second, p.Backoff(40))
}

func TestBackoffJitterWithinBounds(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Jitter: true}
	for i := 0; i < 50; i++ {
		got := p.Backoff(3)
		assert.GreaterOrEqual(t, got, 300*time.Millisecond)
		assert.LessOrEqual(t, got, 500*time.Millisecond)
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	var retried []int
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoExhausts(t *testing.T) {
	p := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}
	last := errors.New("still down")

	err := p.Do(context.Background(), func(context.Context) error { return last })

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, last)
}

func TestDoStopsOnPermanent(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	bad := errors.New("invalid request")
	calls := 0

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(bad)
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, bad)
	assert.True(t, IsPermanent(err))
	assert.False(t, errors.Is(err, ErrExhausted))
	assert.True(t, IsPermanent(fmt.Errorf("s3 get: %w", err)), "marker survives wrapping")
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour}
	calls := 0

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
