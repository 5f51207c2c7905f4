// Package slippage measures execution quality: the gap between the price
// a decision was made at and the price the exchange filled at.
package slippage

import (
	"math"
	"sync"
	"time"

	"voltra/internal/gateway/exchange"
	"voltra/internal/logger"
	"voltra/internal/pkg/errs"
)

const rollingWindow = 200

// Config 控制滑点容忍度与重试上限,比例均为小数 (0.02 = 2%)。
type Config struct {
	MaxAcceptablePct float64 `mapstructure:"max_acceptable_pct"`
	MaxRetries       int     `mapstructure:"max_retries"`
}

func (c Config) withDefaults() Config {
	if c.MaxAcceptablePct <= 0 {
		c.MaxAcceptablePct = 0.02
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	return c
}

// Fill is one recorded execution. Pct is signed and adverse-positive: a
// buy filled above the expected price and a sell filled below it both
// read as positive slippage.
type Fill struct {
	Symbol        string             `json:"symbol"`
	Side          exchange.OrderSide `json:"side"`
	ExpectedPrice float64            `json:"expected_price"`
	ActualPrice   float64            `json:"actual_price"`
	Quantity      float64            `json:"quantity"`
	Pct           float64            `json:"pct"`
	Cost          float64            `json:"cost"`
	Acceptable    bool               `json:"acceptable"`
	Time          time.Time          `json:"time"`
}

// Stats is the rolling per-symbol view, recomputed after every fill.
type Stats struct {
	Count       int     `json:"count"`
	MeanPct     float64 `json:"mean_pct"`
	MinPct      float64 `json:"min_pct"`
	MaxPct      float64 `json:"max_pct"`
	Histogram   [4]int  `json:"histogram"` // <=1%, 1-3%, 3-5%, >5%
	SuccessRate float64 `json:"success_rate"`
}

type symbolState struct {
	recent []float64
	fills  int
	ok     int
}

// Tracker keeps per-symbol slippage analytics over a bounded rolling
// window.
type Tracker struct {
	mu    sync.Mutex
	cfg   Config
	bySym map[string]*symbolState
	clock func() time.Time
}

func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:   cfg.withDefaults(),
		bySym: make(map[string]*symbolState),
		clock: time.Now,
	}
}

// RecordFill folds one execution into the analytics and returns the
// scored fill.
func (t *Tracker) RecordFill(symbol string, side exchange.OrderSide, expected, actual, qty float64) (Fill, error) {
	if expected <= 0 || actual <= 0 {
		return Fill{}, errs.Validation("slippage.record", "prices must be positive")
	}
	if qty <= 0 {
		return Fill{}, errs.Validation("slippage.record", "quantity must be positive")
	}

	pct := (actual - expected) / expected
	if side == exchange.SideSell {
		pct = -pct
	}
	f := Fill{
		Symbol:        symbol,
		Side:          side,
		ExpectedPrice: expected,
		ActualPrice:   actual,
		Quantity:      qty,
		Pct:           pct,
		Cost:          math.Abs(actual-expected) * qty,
		Acceptable:    pct <= t.cfg.MaxAcceptablePct,
		Time:          t.clock(),
	}

	t.mu.Lock()
	st := t.bySym[symbol]
	if st == nil {
		st = &symbolState{}
		t.bySym[symbol] = st
	}
	st.recent = append(st.recent, pct)
	if len(st.recent) > rollingWindow {
		st.recent = st.recent[len(st.recent)-rollingWindow:]
	}
	st.fills++
	if f.Acceptable {
		st.ok++
	}
	t.mu.Unlock()

	if !f.Acceptable {
		logger.Warnf("slippage on %s %s: %.2f%% above %.2f%% ceiling (cost %.4f)",
			symbol, side, pct*100, t.cfg.MaxAcceptablePct*100, f.Cost)
	}
	return f, nil
}

// ShouldRetry reports whether an unacceptable fill leaves retry budget
// for another attempt. attempt is zero-based.
func (t *Tracker) ShouldRetry(f Fill, attempt int) bool {
	return !f.Acceptable && attempt < t.cfg.MaxRetries
}

// OptimalOrderSize shrinks the next attempt once observed slippage passes
// half the ceiling, proportionally to the overshoot, floored at 10% of
// the original quantity.
func (t *Tracker) OptimalOrderSize(originalQty, observedPct float64) float64 {
	if originalQty <= 0 {
		return 0
	}
	half := t.cfg.MaxAcceptablePct / 2
	if observedPct <= half {
		return originalQty
	}
	scale := math.Max(0.1, half/observedPct)
	return originalQty * scale
}

// Stats returns the current rolling analytics for a symbol.
func (t *Tracker) Stats(symbol string) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.bySym[symbol]
	if st == nil || len(st.recent) == 0 {
		return Stats{}
	}
	s := Stats{
		Count:  st.fills,
		MinPct: st.recent[0],
		MaxPct: st.recent[0],
	}
	sum := 0.0
	for _, p := range st.recent {
		sum += p
		if p < s.MinPct {
			s.MinPct = p
		}
		if p > s.MaxPct {
			s.MaxPct = p
		}
		s.Histogram[bucketFor(p)]++
	}
	s.MeanPct = sum / float64(len(st.recent))
	s.SuccessRate = float64(st.ok) / float64(st.fills)
	return s
}

// Symbols lists tracked symbols, for the read-only HTTP surface.
func (t *Tracker) Symbols() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.bySym))
	for sym := range t.bySym {
		out = append(out, sym)
	}
	return out
}

func bucketFor(pct float64) int {
	abs := math.Abs(pct)
	switch {
	case abs <= 0.01:
		return 0
	case abs <= 0.03:
		return 1
	case abs <= 0.05:
		return 2
	default:
		return 3
	}
}
