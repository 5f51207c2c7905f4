package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltra/internal/pkg/errs"
)

func newTestManager() *Manager {
	m := NewManager(nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return base }
	n := 0
	m.idFn = func() string { n++; return "pf-" + string(rune('a'+n-1)) }
	return m
}

func defaultRequest() CreateRequest {
	return CreateRequest{
		Name: "core",
		Budget: Budget{
			Total:        decimal.NewFromInt(10000),
			MaxPerSymbol: decimal.NewFromInt(4000),
			Currency:     "USDT",
		},
		Constraints: RiskConstraints{MaxSymbols: 3, MaxPositionSize: 0.05},
		Symbols: []PortfolioSymbol{
			{Symbol: "BTCUSDT", AllocationPct: 40},
			{Symbol: "ETHUSDT", AllocationPct: 30},
		},
	}
}

func TestManagerCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		m := newTestManager()
		p, err := m.Create(ctx, defaultRequest())
		require.NoError(t, err)
		assert.NotEmpty(t, p.ID)
		assert.InDelta(t, 70, p.AllocatedPct(), 1e-9)
		assert.True(t, p.Symbols[0].Active)
		require.NotEmpty(t, p.History)
		assert.Equal(t, "created", p.History[0].Event)
	})

	t.Run("allocation over 100 rejected", func(t *testing.T) {
		m := newTestManager()
		req := defaultRequest()
		req.Symbols[0].AllocationPct = 80
		req.Symbols[1].AllocationPct = 30
		_, err := m.Create(ctx, req)
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	})

	t.Run("symbol limit enforced", func(t *testing.T) {
		m := newTestManager()
		req := defaultRequest()
		req.Constraints.MaxSymbols = 1
		_, err := m.Create(ctx, req)
		require.Error(t, err)
	})

	t.Run("duplicate symbol rejected", func(t *testing.T) {
		m := newTestManager()
		req := defaultRequest()
		req.Symbols[1].Symbol = "BTCUSDT"
		_, err := m.Create(ctx, req)
		require.Error(t, err)
	})
}

func TestManagerSymbolLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	p, err := m.Create(ctx, defaultRequest())
	require.NoError(t, err)

	t.Run("add within limits", func(t *testing.T) {
		err := m.AddSymbol(ctx, p.ID, PortfolioSymbol{Symbol: "SOLUSDT", AllocationPct: 20})
		require.NoError(t, err)
		got, err := m.Get(p.ID)
		require.NoError(t, err)
		assert.Len(t, got.Symbols, 3)
	})

	t.Run("add past symbol limit rejected", func(t *testing.T) {
		err := m.AddSymbol(ctx, p.ID, PortfolioSymbol{Symbol: "XRPUSDT", AllocationPct: 5})
		require.Error(t, err)
	})

	t.Run("remove with open position rejected", func(t *testing.T) {
		require.NoError(t, m.ApplyFill(ctx, p.ID, Fill{
			Symbol: "SOLUSDT", IsBuy: true, Quantity: 10, Price: 150,
		}))
		err := m.RemoveSymbol(ctx, p.ID, "SOLUSDT")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "open position")
	})

	t.Run("remove after close", func(t *testing.T) {
		require.NoError(t, m.ApplyFill(ctx, p.ID, Fill{
			Symbol: "SOLUSDT", IsBuy: false, Quantity: 10, Price: 155,
		}))
		require.NoError(t, m.RemoveSymbol(ctx, p.ID, "SOLUSDT"))
		got, err := m.Get(p.ID)
		require.NoError(t, err)
		assert.Nil(t, got.FindSymbol("SOLUSDT"))
	})
}

func TestManagerReallocate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	p, err := m.Create(ctx, defaultRequest())
	require.NoError(t, err)

	t.Run("total above 100 rejected", func(t *testing.T) {
		err := m.Reallocate(ctx, p.ID, map[string]float64{"BTCUSDT": 90, "ETHUSDT": 20})
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	})

	t.Run("unknown symbol rejected", func(t *testing.T) {
		err := m.Reallocate(ctx, p.ID, map[string]float64{"DOGEUSDT": 10})
		require.Error(t, err)
	})

	t.Run("partial update keeps the rest", func(t *testing.T) {
		require.NoError(t, m.Reallocate(ctx, p.ID, map[string]float64{"BTCUSDT": 50}))
		got, err := m.Get(p.ID)
		require.NoError(t, err)
		assert.InDelta(t, 50, got.FindSymbol("BTCUSDT").AllocationPct, 1e-9)
		assert.InDelta(t, 30, got.FindSymbol("ETHUSDT").AllocationPct, 1e-9)
	})
}

func TestManagerApplyFill(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	p, err := m.Create(ctx, defaultRequest())
	require.NoError(t, err)

	t.Run("buy opens long", func(t *testing.T) {
		require.NoError(t, m.ApplyFill(ctx, p.ID, Fill{
			Symbol: "BTCUSDT", IsBuy: true, Quantity: 0.1, Price: 50000, Commission: 2,
		}))
		got, _ := m.Get(p.ID)
		pos := got.FindSymbol("BTCUSDT").Position
		require.NotNil(t, pos)
		assert.Equal(t, PositionOpen, pos.Status)
		assert.Equal(t, SideLong, pos.Side)
		assert.InDelta(t, 50000, pos.EntryPrice, 1e-9)
	})

	t.Run("scale in reweights entry", func(t *testing.T) {
		require.NoError(t, m.ApplyFill(ctx, p.ID, Fill{
			Symbol: "BTCUSDT", IsBuy: true, Quantity: 0.1, Price: 52000,
		}))
		got, _ := m.Get(p.ID)
		pos := got.FindSymbol("BTCUSDT").Position
		assert.InDelta(t, 0.2, pos.Quantity, 1e-9)
		assert.InDelta(t, 51000, pos.EntryPrice, 1e-9)
	})

	t.Run("sell over position rejected", func(t *testing.T) {
		err := m.ApplyFill(ctx, p.ID, Fill{
			Symbol: "BTCUSDT", IsBuy: false, Quantity: 0.5, Price: 53000,
		})
		require.Error(t, err)
	})

	t.Run("full close realizes pnl and counts the trade", func(t *testing.T) {
		require.NoError(t, m.ApplyFill(ctx, p.ID, Fill{
			Symbol: "BTCUSDT", IsBuy: false, Quantity: 0.2, Price: 53000, Commission: 2,
		}))
		got, _ := m.Get(p.ID)
		pos := got.FindSymbol("BTCUSDT").Position
		assert.Equal(t, PositionClosed, pos.Status)
		// (53000-51000)*0.2 minus 4 of commission.
		assert.InDelta(t, 396, pos.RealizedPnL, 1e-6)
		assert.Equal(t, 1, got.Performance.TotalTrades)
		assert.Equal(t, 1, got.Performance.WinningTrades)
		assert.InDelta(t, 1.0, got.Performance.WinRate, 1e-9)
		assert.InDelta(t, 396, got.Performance.RealizedPnL, 1e-6)
	})

	t.Run("sell with no position rejected", func(t *testing.T) {
		err := m.ApplyFill(ctx, p.ID, Fill{
			Symbol: "ETHUSDT", IsBuy: false, Quantity: 1, Price: 3000,
		})
		require.Error(t, err)
	})
}

func TestManagerDelete(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	p, err := m.Create(ctx, defaultRequest())
	require.NoError(t, err)

	require.NoError(t, m.ApplyFill(ctx, p.ID, Fill{
		Symbol: "ETHUSDT", IsBuy: true, Quantity: 2, Price: 3000,
	}))
	require.Error(t, m.Delete(ctx, p.ID), "delete must refuse while a position is open")

	require.NoError(t, m.ApplyFill(ctx, p.ID, Fill{
		Symbol: "ETHUSDT", IsBuy: false, Quantity: 2, Price: 3100,
	}))
	require.NoError(t, m.Delete(ctx, p.ID))
	_, err = m.Get(p.ID)
	require.Error(t, err)
}

func TestSymbolBudget(t *testing.T) {
	m := newTestManager()
	p, err := m.Create(context.Background(), defaultRequest())
	require.NoError(t, err)

	// 40% of 10000 is 4000, exactly the per-symbol cap.
	assert.True(t, p.SymbolBudget("BTCUSDT").Equal(decimal.NewFromInt(4000)))
	// 30% of 10000 under the cap.
	assert.True(t, p.SymbolBudget("ETHUSDT").Equal(decimal.NewFromInt(3000)))
	assert.True(t, p.SymbolBudget("NOPE").IsZero())
}
