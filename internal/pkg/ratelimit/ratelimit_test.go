package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltra/internal/pkg/errs"
)

func newTestLimiter(rules map[string]Rule) (*Limiter, *time.Time) {
	l := NewLimiter(rules)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.nowFn = func() time.Time { return now }
	l.pollStep = time.Millisecond
	return l, &now
}

func TestCheckFixedWindow(t *testing.T) {
	l, now := newTestLimiter(map[string]Rule{"orders": {Limit: 2, Window: time.Minute}})

	first := l.Check("orders", "BTCUSDT")
	require.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)
	assert.Equal(t, now.Add(time.Minute), first.ResetAt)

	second := l.Check("orders", "BTCUSDT")
	require.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	third := l.Check("orders", "BTCUSDT")
	assert.False(t, third.Allowed)
	assert.Equal(t, now.Add(time.Minute), third.ResetAt)

	// A fresh window opens exactly at the reset boundary.
	*now = now.Add(time.Minute)
	fourth := l.Check("orders", "BTCUSDT")
	assert.True(t, fourth.Allowed)
	assert.Equal(t, 1, fourth.Remaining)
}

func TestCheckIsolatesIdentifiers(t *testing.T) {
	l, _ := newTestLimiter(map[string]Rule{"orders": {Limit: 1, Window: time.Minute}})

	require.True(t, l.Check("orders", "BTCUSDT").Allowed)
	assert.False(t, l.Check("orders", "BTCUSDT").Allowed)
	assert.True(t, l.Check("orders", "ETHUSDT").Allowed)
}

func TestCheckUnknownCategoryFailsOpen(t *testing.T) {
	l, _ := newTestLimiter(nil)
	for i := 0; i < 10; i++ {
		assert.True(t, l.Check("mystery", "x").Allowed)
	}
}

func TestWait(t *testing.T) {
	t.Run("immediate when capacity remains", func(t *testing.T) {
		l := NewLimiter(map[string]Rule{"orders": {Limit: 1, Window: time.Minute}})
		require.NoError(t, l.Wait(context.Background(), "orders", "BTCUSDT", time.Second))
	})

	t.Run("times out with rate limit error", func(t *testing.T) {
		l := NewLimiter(map[string]Rule{"orders": {Limit: 1, Window: time.Hour}})
		l.pollStep = time.Millisecond
		require.True(t, l.Check("orders", "BTCUSDT").Allowed)

		err := l.Wait(context.Background(), "orders", "BTCUSDT", 5*time.Millisecond)
		require.Error(t, err)
		assert.Equal(t, errs.KindRateLimit, errs.KindOf(err))
	})

	t.Run("context cancel wins", func(t *testing.T) {
		l := NewLimiter(map[string]Rule{"orders": {Limit: 1, Window: time.Hour}})
		l.pollStep = time.Millisecond
		require.True(t, l.Check("orders", "BTCUSDT").Allowed)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := l.Wait(ctx, "orders", "BTCUSDT", time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSweep(t *testing.T) {
	l, now := newTestLimiter(map[string]Rule{"orders": {Limit: 5, Window: time.Minute}})

	l.Check("orders", "BTCUSDT")
	l.Check("orders", "ETHUSDT")
	assert.Equal(t, 0, l.Sweep())

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, l.Sweep())
	assert.Equal(t, 0, l.Sweep())
}
