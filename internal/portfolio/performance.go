package portfolio

import (
	"context"
	"fmt"
	"time"

	"voltra/internal/logger"
	"voltra/internal/pkg/errs"
)

// Fill is one executed trade reported by the order lifecycle.
type Fill struct {
	Symbol     string
	IsBuy      bool
	Quantity   float64
	Price      float64
	Commission float64
	TradeID    string
	Time       time.Time
}

// ApplyFill folds an execution into the book. A buy opens or grows a long
// position at the volume-weighted entry price; a sell reduces or closes it
// and realizes P&L. Performance metrics are recomputed under the same lock.
func (m *Manager) ApplyFill(ctx context.Context, id string, f Fill) error {
	if f.Quantity <= 0 || f.Price <= 0 {
		return errs.Validation("portfolio.apply_fill", "quantity and price must be positive")
	}
	return m.update(ctx, id, func(p *Portfolio) error {
		slot := p.FindSymbol(f.Symbol)
		if slot == nil {
			return errs.Validation("portfolio.apply_fill", "%s not in portfolio %s", f.Symbol, id)
		}
		when := f.Time
		if when.IsZero() {
			when = m.clock()
		}
		if f.IsBuy {
			applyBuy(p, slot, f, when)
		} else {
			if err := applySell(p, slot, f, when); err != nil {
				return err
			}
		}
		refreshUnrealized(p)
		m.appendHistory(p, "fill", fmt.Sprintf("%s %s qty=%.6f price=%.4f",
			f.Symbol, fillSide(f), f.Quantity, f.Price))
		return nil
	})
}

func applyBuy(p *Portfolio, slot *PortfolioSymbol, f Fill, when time.Time) {
	pos := slot.Position
	if pos == nil || pos.Status != PositionOpen {
		slot.Position = &Position{
			Symbol:       f.Symbol,
			PortfolioID:  p.ID,
			Side:         SideLong,
			Quantity:     f.Quantity,
			EntryPrice:   f.Price,
			CurrentPrice: f.Price,
			EntryTime:    when,
			Status:       PositionOpen,
			TradeID:      f.TradeID,
			RealizedPnL:  -f.Commission,
		}
		if p.Constraints.DefaultStopLossPct > 0 {
			slot.Position.StopLoss = f.Price * (1 - p.Constraints.DefaultStopLossPct)
		}
		if p.Constraints.DefaultTakeProfitPct > 0 {
			slot.Position.TakeProfit = f.Price * (1 + p.Constraints.DefaultTakeProfitPct)
		}
		logger.Infof("portfolio %s opened %s long qty=%.6f @ %.4f", p.ID, f.Symbol, f.Quantity, f.Price)
		return
	}
	// Scale in: volume-weighted entry price.
	total := pos.Quantity + f.Quantity
	pos.EntryPrice = (pos.EntryPrice*pos.Quantity + f.Price*f.Quantity) / total
	pos.Quantity = total
	pos.RealizedPnL -= f.Commission
	pos.MarkPrice(f.Price)
}

func applySell(p *Portfolio, slot *PortfolioSymbol, f Fill, when time.Time) error {
	pos := slot.Position
	if pos == nil || pos.Status != PositionOpen {
		return errs.Validation("portfolio.apply_fill", "sell fill for %s with no open position", f.Symbol)
	}
	qty := f.Quantity
	if qty > pos.Quantity+1e-12 {
		return errs.Validation("portfolio.apply_fill",
			"sell qty %.6f exceeds position %.6f", qty, pos.Quantity)
	}
	realized := (f.Price-pos.EntryPrice)*qty - f.Commission
	pos.RealizedPnL += realized
	pos.Quantity -= qty
	pos.MarkPrice(f.Price)

	if pos.Quantity <= 1e-12 {
		pos.Quantity = 0
		pos.Status = PositionClosed
		pos.UnrealizedPnL = 0
		recordClosedTrade(p, slot, pos.RealizedPnL, when)
		logger.Infof("portfolio %s closed %s, realized %.4f", p.ID, f.Symbol, pos.RealizedPnL)
	}
	return nil
}

func fillSide(f Fill) string {
	if f.IsBuy {
		return "buy"
	}
	return "sell"
}

// recordClosedTrade updates trade counters, win rate, daily P&L and the
// drawdown track after a position fully closes.
func recordClosedTrade(p *Portfolio, slot *PortfolioSymbol, realized float64, when time.Time) {
	slot.Performance.Trades++
	if realized > 0 {
		slot.Performance.Wins++
	}
	slot.Performance.RealizedPnL += realized

	perf := &p.Performance
	perf.TotalTrades++
	if realized > 0 {
		perf.WinningTrades++
	}
	if perf.TotalTrades > 0 {
		perf.WinRate = float64(perf.WinningTrades) / float64(perf.TotalTrades)
	}
	perf.RealizedPnL += realized

	day := when.UTC().Format("2006-01-02")
	if perf.DailyAnchor != day {
		perf.DailyAnchor = day
		perf.DailyPnL = 0
	}
	perf.DailyPnL += realized
}

// refreshUnrealized recomputes aggregate unrealized P&L and the drawdown
// track from current equity (realized + unrealized).
func refreshUnrealized(p *Portfolio) {
	unrealized := 0.0
	for _, pos := range p.OpenPositions() {
		unrealized += pos.UnrealizedPnL
	}
	perf := &p.Performance
	perf.UnrealizedPnL = unrealized

	equity := perf.RealizedPnL + unrealized
	if equity > perf.PeakEquity {
		perf.PeakEquity = equity
	}
	base, _ := p.Budget.Total.Float64()
	if base > 0 {
		dd := (perf.PeakEquity - equity) / base
		if dd > perf.MaxDrawdown {
			perf.MaxDrawdown = dd
		}
	}
}
