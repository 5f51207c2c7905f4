package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltra/internal/market"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]struct {
		want time.Duration
		ok   bool
	}{
		"5m":   {5 * time.Minute, true},
		"15m":  {15 * time.Minute, true},
		"1h":   {time.Hour, true},
		"4h":   {4 * time.Hour, true},
		"1d":   {24 * time.Hour, true},
		"1w":   {7 * 24 * time.Hour, true},
		" 1H ": {time.Hour, true},
		"":     {0, false},
		"m":    {0, false},
		"0m":   {0, false},
		"-5m":  {0, false},
		"5s":   {0, false},
		"abc":  {0, false},
	}
	for input, tc := range cases {
		t.Run("input "+input, func(t *testing.T) {
			got, ok := ParseIntervalDuration(input)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDropUnclosedKline(t *testing.T) {
	interval := 5 * time.Minute
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	klines := []market.Candle{
		{OpenTime: base.Add(-10 * time.Minute).UnixMilli(), Close: 100},
		{OpenTime: base.Add(-5 * time.Minute).UnixMilli(), Close: 101},
		{OpenTime: base.UnixMilli(), Close: 102},
	}

	t.Run("in-progress last bar is dropped", func(t *testing.T) {
		now := base.Add(2 * time.Minute)
		got := dropUnclosedKlineAt(klines, interval, now, 10*time.Second)
		require.Len(t, got, 2)
		assert.Equal(t, 101.0, got[len(got)-1].Close)
	})

	t.Run("bar inside grace period is still dropped", func(t *testing.T) {
		now := base.Add(interval).Add(5 * time.Second)
		got := dropUnclosedKlineAt(klines, interval, now, 10*time.Second)
		assert.Len(t, got, 2)
	})

	t.Run("closed bar past grace is kept", func(t *testing.T) {
		now := base.Add(interval).Add(11 * time.Second)
		got := dropUnclosedKlineAt(klines, interval, now, 10*time.Second)
		assert.Len(t, got, 3)
	})

	t.Run("empty and invalid inputs pass through", func(t *testing.T) {
		assert.Empty(t, dropUnclosedKlineAt(nil, interval, base, 0))
		assert.Len(t, dropUnclosedKlineAt(klines, 0, base, 0), 3)

		zeroTime := []market.Candle{{OpenTime: 0, Close: 100}}
		assert.Len(t, dropUnclosedKlineAt(zeroTime, interval, base, 0), 1)
	})
}

func TestNextTimes(t *testing.T) {
	s := &AlignedScheduler{Interval: 5 * time.Minute, Offset: 5 * time.Second}

	now := time.Date(2025, 6, 1, 12, 2, 30, 0, time.UTC)
	nextClose, wakeAt, wait := s.nextTimes(now)

	assert.Equal(t, time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC), nextClose)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 5, 5, 0, time.UTC), wakeAt)
	assert.Equal(t, 2*time.Minute+35*time.Second, wait)

	// Exactly on a boundary the next close is a full interval away.
	onBoundary := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	nextClose, _, _ = s.nextTimes(onBoundary)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC), nextClose)
}

func TestStartRunImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewAlignedScheduler(ctx, time.Hour, 0)
	s.Name = "test"
	s.RunImmediately = true

	ran := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(func() { ran <- struct{}{} })
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("immediate run never happened")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on ctx cancel")
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	// Both must return without blocking.
	(&AlignedScheduler{Interval: 0}).Start(func() {})
	NewAlignedScheduler(context.Background(), time.Minute, 0).Start(nil)
}
