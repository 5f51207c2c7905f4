package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltra/internal/pkg/errs"
)

// fastPolicy keeps backoff waits in the microsecond range so the tests
// exercise the full loop without slowing the suite down.
var fastPolicy = Policy{MaxAttempts: 3, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond, Multiplier: 2}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "gateway.ticker", fastPolicy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errs.Wrap(errs.KindNetwork, "gateway.ticker", errors.New("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	bad := errs.Validation("order.validate", "quantity below minimum")
	err := Do(context.Background(), "order.place", fastPolicy, func(ctx context.Context) error {
		calls++
		return bad
	})
	require.ErrorIs(t, err, bad)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustion(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "order.place", fastPolicy, func(ctx context.Context) error {
		calls++
		return errs.New(errs.KindTimeout, "order.place", "deadline exceeded")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 3, e.Attempts)
	assert.Equal(t, errs.KindTimeout, e.Kind)
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
}

func TestDoTerminalRejection(t *testing.T) {
	calls := 0
	term := errs.New(errs.KindExchangeAPI, "order.place", "insufficient balance")
	term.Terminal = true
	err := Do(context.Background(), "order.place", fastPolicy, func(ctx context.Context) error {
		calls++
		return term
	})
	require.ErrorIs(t, err, term)
	assert.Equal(t, 1, calls)
}

func TestDoContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	slow := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}

	err := Do(ctx, "gateway.candles", slow, func(ctx context.Context) error {
		calls++
		cancel()
		return errs.Wrap(errs.KindNetwork, "gateway.candles", errors.New("down"))
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsRateLimitReset(t *testing.T) {
	resetAt := time.Now().Add(20 * time.Millisecond)
	calls := 0
	start := time.Now()
	err := Do(context.Background(), "orders", fastPolicy, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errs.RateLimited("orders", resetAt)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	// The wait stretched to the window reset despite the tiny base delay.
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestJitterRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := jitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), jitter(0))
}
