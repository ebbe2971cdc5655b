package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDoDoesNotRetryPermanent(t *testing.T) {
	calls := 0
	bad := errors.New("bad request")
	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(bad)
	})
	assert.Equal(t, bad, err)
	assert.Equal(t, 1, calls)
}

func TestDoAppliesAttemptTimeout(t *testing.T) {
	p := fastPolicy(1)
	p.Timeout = 10 * time.Millisecond
	err := p.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Policy{MaxAttempts: 3, BaseDelay: time.Second}.Do(ctx, func(ctx context.Context) error {
		calls++
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDelayIsCapped(t *testing.T) {
	p := NewPolicy(0, 3, 0)
	assert.Equal(t, 200*time.Millisecond, p.delay(0))
	assert.Equal(t, 400*time.Millisecond, p.delay(1))
	assert.Equal(t, 5*time.Second, p.delay(10))
}
