// Package portfolio holds the trading book: portfolios, their symbols and
// the open positions, plus the performance accounting updated on fills.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionClosed  PositionStatus = "CLOSED"
	PositionPending PositionStatus = "PENDING"
)

// Budget 描述组合资金约束。
type Budget struct {
	Total        decimal.Decimal `json:"total"`
	MaxPerSymbol decimal.Decimal `json:"max_per_symbol"`
	Currency     string          `json:"currency"`
}

// RiskConstraints 是组合级风控参数。
type RiskConstraints struct {
	MaxSymbols           int     `json:"max_symbols"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	MaxDailyLoss         float64 `json:"max_daily_loss"`
	MaxPositionSize      float64 `json:"max_position_size"`
	CorrelationThreshold float64 `json:"correlation_threshold"`
	DefaultStopLossPct   float64 `json:"default_stop_loss_pct"`
	DefaultTakeProfitPct float64 `json:"default_take_profit_pct"`
}

// Position is created on a filled entry order and mutated only by fills,
// price refreshes and exits.
type Position struct {
	Symbol        string         `json:"symbol"`
	PortfolioID   string         `json:"portfolio_id"`
	Side          PositionSide   `json:"side"`
	Quantity      float64        `json:"quantity"`
	EntryPrice    float64        `json:"entry_price"`
	CurrentPrice  float64        `json:"current_price"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	RealizedPnL   float64        `json:"realized_pnl"`
	StopLoss      float64        `json:"stop_loss,omitempty"`
	TakeProfit    float64        `json:"take_profit,omitempty"`
	EntryTime     time.Time      `json:"entry_time"`
	Status        PositionStatus `json:"status"`
	TradeID       string         `json:"trade_id,omitempty"`
}

// Notional is the current market value of the position.
func (p *Position) Notional() float64 {
	price := p.CurrentPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	return p.Quantity * price
}

// MarkPrice refreshes the current price and unrealized P&L.
func (p *Position) MarkPrice(price float64) {
	if price <= 0 {
		return
	}
	p.CurrentPrice = price
	diff := price - p.EntryPrice
	if p.Side == SideShort {
		diff = -diff
	}
	p.UnrealizedPnL = diff * p.Quantity
}

type SymbolPerformance struct {
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// PortfolioSymbol is one allocated slot in a portfolio.
type PortfolioSymbol struct {
	Symbol        string            `json:"symbol"`
	AllocationPct float64           `json:"allocation_pct"`
	MinPct        float64           `json:"min_pct"`
	MaxPct        float64           `json:"max_pct"`
	Active        bool              `json:"active"`
	Position      *Position         `json:"position,omitempty"`
	Performance   SymbolPerformance `json:"performance"`
}

// HistoryEntry is one line in the portfolio's append-only audit log.
type HistoryEntry struct {
	Time   time.Time `json:"time"`
	Event  string    `json:"event"`
	Detail string    `json:"detail,omitempty"`
}

// PerformanceMetrics is a derived read-model, recomputed on fills.
type PerformanceMetrics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	WinRate       float64 `json:"win_rate"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	PeakEquity    float64 `json:"peak_equity"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	DailyPnL      float64 `json:"daily_pnl"`
	DailyAnchor   string  `json:"daily_anchor,omitempty"` // yyyy-mm-dd of DailyPnL
}

// Portfolio ties budget, symbols and risk constraints together. The symbol
// slice keeps insertion order.
type Portfolio struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Budget      Budget             `json:"budget"`
	Symbols     []PortfolioSymbol  `json:"symbols"`
	Constraints RiskConstraints    `json:"constraints"`
	Performance PerformanceMetrics `json:"performance"`
	History     []HistoryEntry     `json:"history"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// FindSymbol returns the slot for a symbol, nil when absent.
func (p *Portfolio) FindSymbol(symbol string) *PortfolioSymbol {
	for i := range p.Symbols {
		if p.Symbols[i].Symbol == symbol {
			return &p.Symbols[i]
		}
	}
	return nil
}

// OpenPositions lists every open position across symbols.
func (p *Portfolio) OpenPositions() []*Position {
	var out []*Position
	for i := range p.Symbols {
		pos := p.Symbols[i].Position
		if pos != nil && pos.Status == PositionOpen {
			out = append(out, pos)
		}
	}
	return out
}

// AllocatedPct sums symbol allocations.
func (p *Portfolio) AllocatedPct() float64 {
	total := 0.0
	for _, s := range p.Symbols {
		total += s.AllocationPct
	}
	return total
}

// SymbolBudget is the per-symbol spending cap: allocation share of the
// total, bounded by the per-symbol ceiling.
func (p *Portfolio) SymbolBudget(symbol string) decimal.Decimal {
	slot := p.FindSymbol(symbol)
	if slot == nil {
		return decimal.Zero
	}
	share := p.Budget.Total.Mul(decimal.NewFromFloat(slot.AllocationPct / 100))
	if !p.Budget.MaxPerSymbol.IsZero() && share.GreaterThan(p.Budget.MaxPerSymbol) {
		return p.Budget.MaxPerSymbol
	}
	return share
}
