package sentiment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltra/internal/pkg/errs"
)

func newTestAggregator() *Aggregator {
	a := NewAggregator(Thresholds{})
	a.clock = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	a.Track("BTCUSDT")
	return a
}

func obs(source string, sentiment, confidence float64) Observation {
	return Observation{
		Source:     source,
		Symbol:     "BTCUSDT",
		Sentiment:  sentiment,
		Confidence: confidence,
	}
}

func TestIngestValidation(t *testing.T) {
	a := newTestAggregator()

	cases := []struct {
		name string
		obs  Observation
	}{
		{"missing symbol", Observation{Source: "coindesk", Sentiment: 0.5, Confidence: 0.8}},
		{"missing source", Observation{Symbol: "BTCUSDT", Sentiment: 0.5, Confidence: 0.8}},
		{"sentiment out of range", obs("coindesk", 1.5, 0.8)},
		{"confidence out of range", obs("coindesk", 0.5, -0.1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := a.Ingest(tc.obs)
			require.Error(t, err)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		})
	}
}

func TestIngestRejectsUntrackedSymbols(t *testing.T) {
	a := newTestAggregator()

	o := obs("coindesk", 0.5, 0.8)
	o.Symbol = "DOGEUSDT"
	err := a.Ingest(o)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	snap := a.Aggregate("DOGEUSDT")
	assert.Equal(t, 0, snap.Observations)
	assert.Equal(t, TrendNeutral, snap.Trend)
}

func TestIngestNormalizesSymbol(t *testing.T) {
	a := newTestAggregator()

	o := obs("coindesk", 0.5, 0.8)
	o.Symbol = "btc/usdt"
	require.NoError(t, a.Ingest(o))

	snap := a.Aggregate("BTCUSDT")
	assert.Equal(t, 1, snap.Observations)
}

func TestAggregateBlend(t *testing.T) {
	t.Run("single bullish source", func(t *testing.T) {
		a := newTestAggregator()
		require.NoError(t, a.Ingest(obs("coindesk", 0.8, 0.9)))

		snap := a.Aggregate("BTCUSDT")
		// One category means its weighted mean is the score itself.
		assert.InDelta(t, 0.8, snap.Score, 1e-9)
		assert.Equal(t, TrendBullish, snap.Trend)
		assert.Equal(t, StrengthStrong, snap.Strength)
		require.Contains(t, snap.Categories, CategoryNews)
		assert.Equal(t, 1, snap.Categories[CategoryNews].Count)
	})

	t.Run("mixed categories weighted by base weight and confidence", func(t *testing.T) {
		a := newTestAggregator()
		require.NoError(t, a.Ingest(obs("coindesk", 1.0, 1.0)))
		require.NoError(t, a.Ingest(obs("twitter", -1.0, 1.0)))

		snap := a.Aggregate("BTCUSDT")
		// news 0.4*1.0 vs social 0.3*(-1.0) over total weight 0.7.
		assert.InDelta(t, 0.1/0.7, snap.Score, 1e-9)
		assert.Equal(t, 2, snap.Observations)
		assert.Len(t, snap.Categories, 2)
	})

	t.Run("confidence weighting within a category", func(t *testing.T) {
		a := newTestAggregator()
		require.NoError(t, a.Ingest(obs("coindesk", 1.0, 0.9)))
		require.NoError(t, a.Ingest(obs("reuters", -1.0, 0.1)))

		snap := a.Aggregate("BTCUSDT")
		// (1.0*0.9 - 1.0*0.1) / (0.9 + 0.1) = 0.8
		assert.InDelta(t, 0.8, snap.Score, 1e-9)
	})

	t.Run("deterministic for the same observation set", func(t *testing.T) {
		a := newTestAggregator()
		require.NoError(t, a.Ingest(obs("coindesk", 0.6, 0.7)))
		require.NoError(t, a.Ingest(obs("funding-rate", -0.2, 0.5)))

		first := a.Aggregate("BTCUSDT")
		second := a.Aggregate("BTCUSDT")
		assert.Equal(t, first.Score, second.Score)
		assert.Equal(t, first.Trend, second.Trend)
		assert.Equal(t, first.Strength, second.Strength)
	})
}

func TestThresholdClassification(t *testing.T) {
	cases := []struct {
		name     string
		score    float64
		trend    Trend
		strength Strength
	}{
		{"strong bearish", -0.7, TrendBearish, StrengthStrong},
		{"moderate bearish", -0.4, TrendBearish, StrengthModerate},
		{"neutral", 0.1, TrendNeutral, StrengthWeak},
		{"moderate bullish", 0.4, TrendBullish, StrengthModerate},
		{"strong bullish", 0.7, TrendBullish, StrengthStrong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAggregator()
			require.NoError(t, a.Ingest(obs("coindesk", tc.score, 1.0)))
			snap := a.Aggregate("BTCUSDT")
			assert.Equal(t, tc.trend, snap.Trend)
			assert.Equal(t, tc.strength, snap.Strength)
		})
	}
}

func TestLatestNeutralWithoutData(t *testing.T) {
	a := newTestAggregator()
	snap := a.Latest("BTCUSDT")
	assert.Equal(t, 0.0, snap.Score)
	assert.Equal(t, TrendNeutral, snap.Trend)
	assert.Equal(t, StrengthWeak, snap.Strength)
	assert.Zero(t, snap.Confidence)
}

func TestUntrackClearsState(t *testing.T) {
	a := newTestAggregator()
	require.NoError(t, a.Ingest(obs("coindesk", 0.5, 0.8)))
	a.Aggregate("BTCUSDT")
	require.NotEmpty(t, a.History("BTCUSDT"))

	a.Untrack("BTCUSDT")
	assert.NotContains(t, a.Tracked(), "BTCUSDT")
	assert.Empty(t, a.History("BTCUSDT"))
	assert.Equal(t, TrendNeutral, a.Latest("BTCUSDT").Trend)
}

func TestWorkerAggregatesOnIngest(t *testing.T) {
	a := NewAggregator(Thresholds{})
	a.Track("BTCUSDT")
	a.Start()
	defer a.Close()

	require.NoError(t, a.Ingest(obs("coindesk", 0.8, 0.9)))

	deadline := time.After(2 * time.Second)
	for {
		if a.Latest("BTCUSDT").Observations == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker never aggregated the observation")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestClassifySource(t *testing.T) {
	assert.Equal(t, CategoryNews, classifySource("CoinDesk RSS"))
	assert.Equal(t, CategorySocial, classifySource("twitter-firehose"))
	assert.Equal(t, CategoryMarket, classifySource("funding-rate"))
	assert.Equal(t, CategoryMarket, classifySource(""))
}
