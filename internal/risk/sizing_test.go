package risk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltra/internal/pkg/errs"
)

func TestSizePosition(t *testing.T) {
	s := NewSizer(Config{MaxRiskPerPosition: 0.05}, nil)

	t.Run("fixed fraction baseline", func(t *testing.T) {
		res, err := s.SizePosition(SizingInput{Budget: 10000, Confidence: 0.5, Price: 100})
		require.NoError(t, err)
		assert.Equal(t, MethodFixed, res.Method)
		assert.InDelta(t, 5.0, res.Quantity, 1e-9)
	})

	t.Run("kelly above confidence floor", func(t *testing.T) {
		res, err := s.SizePosition(SizingInput{Budget: 10000, Confidence: 0.9, Price: 100})
		require.NoError(t, err)
		assert.Equal(t, MethodKelly, res.Method)
		// (2*0.9 - 0.1)/2 * 0.5 = 0.425 of budget.
		assert.InDelta(t, 42.5, res.Quantity, 1e-9)
	})

	t.Run("kelly never negative nor unaffordable", func(t *testing.T) {
		for _, c := range []float64{0.81, 0.85, 0.9, 0.95, 1.0} {
			res, err := s.SizePosition(SizingInput{Budget: 10000, Confidence: c, Price: 100})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.Quantity, 0.0, "confidence %.2f", c)
			assert.LessOrEqual(t, res.Quantity, 100.0, "confidence %.2f", c)
		}
	})

	t.Run("volatility shrinks the base size", func(t *testing.T) {
		res, err := s.SizePosition(SizingInput{Budget: 10000, Confidence: 0.5, Price: 100, Volatility: 0.2})
		require.NoError(t, err)
		assert.Equal(t, MethodVolatility, res.Method)
		// base 5.0 scaled by 1-2*0.2 = 0.6.
		assert.InDelta(t, 3.0, res.Quantity, 1e-9)
	})

	t.Run("extreme volatility floors at 10 percent", func(t *testing.T) {
		res, err := s.SizePosition(SizingInput{Budget: 10000, Confidence: 0.5, Price: 100, Volatility: 0.9})
		require.NoError(t, err)
		assert.InDelta(t, 0.5, res.Quantity, 1e-9)
	})

	t.Run("risk parity with open positions", func(t *testing.T) {
		res, err := s.SizePosition(SizingInput{Budget: 10000, Confidence: 0.5, Price: 100, OpenCount: 3})
		require.NoError(t, err)
		assert.Equal(t, MethodRiskParity, res.Method)
		// 0.20 total risk split four ways = 0.05 of budget.
		assert.InDelta(t, 5.0, res.Quantity, 1e-9)
	})

	t.Run("clamped to budget", func(t *testing.T) {
		wide := NewSizer(Config{MaxRiskPerPosition: 0.05, KellyMultiplier: 5}, nil)
		res, err := wide.SizePosition(SizingInput{Budget: 1000, Confidence: 0.99, Price: 10})
		require.NoError(t, err)
		assert.InDelta(t, 100.0, res.Quantity, 1e-9)
		assert.Contains(t, res.Reason, "clamped")
	})

	t.Run("invalid inputs", func(t *testing.T) {
		_, err := s.SizePosition(SizingInput{Budget: 10000, Confidence: 0.5, Price: 0})
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		_, err = s.SizePosition(SizingInput{Budget: 0, Confidence: 0.5, Price: 100})
		require.Error(t, err)
		_, err = s.SizePosition(SizingInput{Budget: 10000, Confidence: 1.5, Price: 100})
		require.Error(t, err)
	})
}

func TestAssessRisk(t *testing.T) {
	matrix := NewMatrix()
	matrix.Set("BTCUSDT", "ETHUSDT", 0.85)
	s := NewSizer(Config{CorrelationThreshold: 0.7}, matrix)

	t.Run("components add up", func(t *testing.T) {
		r := s.AssessRisk(AssessInput{
			Symbol:     "BTCUSDT",
			Quantity:   10,
			Price:      100,
			Budget:     100000,
			Volatility: 0.3,
			Existing:   []ExistingPosition{{Symbol: "ETHUSDT", Risk: 0.04}},
		})
		assert.InDelta(t, 0.01, r.Weight, 1e-9)
		assert.InDelta(t, 0.02*0.85, r.CorrelationRisk, 1e-9)
		assert.InDelta(t, 0.03, r.MarketRisk, 1e-9)
		assert.InDelta(t, 0.02, r.LiquidityRisk, 1e-9)
		assert.InDelta(t, r.Weight+r.CorrelationRisk+r.MarketRisk+r.LiquidityRisk, r.Total, 1e-12)
	})

	t.Run("uncorrelated pair contributes nothing", func(t *testing.T) {
		r := s.AssessRisk(AssessInput{
			Symbol:   "BTCUSDT",
			Quantity: 1, Price: 100, Budget: 100000,
			Existing: []ExistingPosition{{Symbol: "DOGEUSDT"}},
		})
		assert.Zero(t, r.CorrelationRisk)
	})

	t.Run("level cutoffs", func(t *testing.T) {
		assert.Equal(t, LevelLow, levelForScore(0.049))
		assert.Equal(t, LevelMedium, levelForScore(0.05))
		assert.Equal(t, LevelHigh, levelForScore(0.10))
		assert.Equal(t, LevelCritical, levelForScore(0.20))
	})
}

func TestValidatePosition(t *testing.T) {
	matrix := NewMatrix()
	matrix.Set("BTCUSDT", "ETHUSDT", 0.9)

	t.Run("passes under all limits", func(t *testing.T) {
		s := NewSizer(Config{MaxRiskPerPosition: 0.10, MaxTotalRisk: 0.20}, nil)
		_, reasons := s.ValidatePosition(AssessInput{
			Symbol: "BTCUSDT", Quantity: 5, Price: 100, Budget: 100000,
		})
		assert.Empty(t, reasons)
	})

	t.Run("position count ceiling", func(t *testing.T) {
		s := NewSizer(Config{MaxPositions: 1, MaxRiskPerPosition: 0.5, MaxTotalRisk: 1}, nil)
		_, reasons := s.ValidatePosition(AssessInput{
			Symbol: "BTCUSDT", Quantity: 1, Price: 100, Budget: 100000,
			Existing: []ExistingPosition{{Symbol: "ETHUSDT", Risk: 0.01}},
		})
		require.Len(t, reasons, 1)
		assert.Contains(t, reasons[0], "position count")
	})

	t.Run("total risk ceiling", func(t *testing.T) {
		s := NewSizer(Config{MaxRiskPerPosition: 0.5, MaxTotalRisk: 0.10}, nil)
		_, reasons := s.ValidatePosition(AssessInput{
			Symbol: "BTCUSDT", Quantity: 50, Price: 100, Budget: 100000,
			Existing: []ExistingPosition{{Symbol: "SOLUSDT", Risk: 0.06}},
		})
		require.NotEmpty(t, reasons)
		found := false
		for _, r := range reasons {
			if strings.Contains(r, "total portfolio risk") {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("correlation ceiling", func(t *testing.T) {
		s := NewSizer(Config{MaxRiskPerPosition: 1, MaxTotalRisk: 1, MaxCorrelationRisk: 0.01}, matrix)
		_, reasons := s.ValidatePosition(AssessInput{
			Symbol: "BTCUSDT", Quantity: 1, Price: 100, Budget: 1000000,
			Existing: []ExistingPosition{{Symbol: "ETHUSDT", Risk: 0.01}},
		})
		require.NotEmpty(t, reasons)
		assert.Contains(t, reasons[len(reasons)-1], "correlation risk")
	})
}

func TestMatrixCorrelation(t *testing.T) {
	m := NewMatrix()
	m.Set("btcusdt", "ethusdt", 0.8)

	assert.InDelta(t, 0.8, m.Correlation("BTCUSDT", "ETHUSDT"), 1e-9)
	assert.InDelta(t, 0.8, m.Correlation("ETHUSDT", "BTCUSDT"), 1e-9, "lookup must be symmetric")
	assert.InDelta(t, 1.0, m.Correlation("BTCUSDT", "BTCUSDT"), 1e-9)
	assert.Zero(t, m.Correlation("BTCUSDT", "XRPUSDT"))
}
