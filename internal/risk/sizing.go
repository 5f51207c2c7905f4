// Package risk sizes new positions and scores them against portfolio
// limits before any order is built.
package risk

import (
	"fmt"
	"math"

	"voltra/internal/logger"
	"voltra/internal/pkg/errs"
)

type SizingMethod string

const (
	MethodKelly      SizingMethod = "KELLY"
	MethodVolatility SizingMethod = "VOLATILITY_ADJUSTED"
	MethodRiskParity SizingMethod = "RISK_PARITY"
	MethodFixed      SizingMethod = "FIXED"
)

// Config 是仓位与组合风控参数,零值字段回落到默认值。
type Config struct {
	MaxRiskPerPosition   float64 `mapstructure:"max_risk_per_position"`
	MaxTotalRisk         float64 `mapstructure:"max_total_risk"`
	MaxPositions         int     `mapstructure:"max_positions"`
	KellyMultiplier      float64 `mapstructure:"kelly_multiplier"`
	KellyConfidenceFloor float64 `mapstructure:"kelly_confidence_floor"`
	CorrelationThreshold float64 `mapstructure:"correlation_threshold"`
	MaxCorrelationRisk   float64 `mapstructure:"max_correlation_risk"`
}

func (c Config) withDefaults() Config {
	if c.MaxRiskPerPosition <= 0 {
		c.MaxRiskPerPosition = 0.05
	}
	if c.MaxTotalRisk <= 0 {
		c.MaxTotalRisk = 0.20
	}
	if c.MaxPositions <= 0 {
		c.MaxPositions = 10
	}
	if c.KellyMultiplier <= 0 {
		c.KellyMultiplier = 0.5
	}
	if c.KellyConfidenceFloor <= 0 {
		c.KellyConfidenceFloor = 0.8
	}
	if c.CorrelationThreshold <= 0 {
		c.CorrelationThreshold = 0.7
	}
	if c.MaxCorrelationRisk <= 0 {
		c.MaxCorrelationRisk = 0.10
	}
	return c
}

// CorrelationProvider supplies pairwise symbol correlations from an
// externally computed matrix. Missing pairs read as zero.
type CorrelationProvider interface {
	Correlation(a, b string) float64
}

// SizingInput carries everything sizing needs for one candidate entry.
type SizingInput struct {
	Budget     float64 // spendable budget for this symbol, quote currency
	Confidence float64 // combined decision confidence in [0, 1]
	Price      float64
	Volatility float64 // e.g. ATR/price, 0 when unknown
	OpenCount  int     // open positions already held in the portfolio
}

// SizingResult names the method used so callers can log and audit it.
type SizingResult struct {
	Quantity     float64
	Method       SizingMethod
	RiskFraction float64 // fraction of budget the position commits
	Reason       string
}

// Sizer applies the sizing ladder and risk scoring.
type Sizer struct {
	cfg  Config
	corr CorrelationProvider
}

func NewSizer(cfg Config, corr CorrelationProvider) *Sizer {
	return &Sizer{cfg: cfg.withDefaults(), corr: corr}
}

// SizePosition picks the first applicable method in a fixed ladder:
// Kelly for high-confidence entries, volatility scaling when volatility
// is known, risk parity when other positions are open, otherwise a fixed
// fraction of budget. The result never exceeds budget/price.
func (s *Sizer) SizePosition(in SizingInput) (SizingResult, error) {
	if in.Price <= 0 {
		return SizingResult{}, errs.Validation("risk.size", "price must be positive")
	}
	if in.Budget <= 0 {
		return SizingResult{}, errs.Validation("risk.size", "budget must be positive")
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return SizingResult{}, errs.Validation("risk.size", "confidence must be within [0, 1]")
	}

	var res SizingResult
	switch {
	case in.Confidence > s.cfg.KellyConfidenceFloor:
		res = s.kellySize(in)
	case in.Volatility > 0:
		res = s.volatilitySize(in)
	case in.OpenCount > 0:
		res = s.riskParitySize(in)
	default:
		res = s.fixedSize(in)
	}

	// Affordability clamp, and never negative.
	maxQty := in.Budget / in.Price
	if res.Quantity > maxQty {
		res.Quantity = maxQty
		res.Reason += " (clamped to budget)"
	}
	if res.Quantity < 0 {
		res.Quantity = 0
	}
	res.RiskFraction = res.Quantity * in.Price / in.Budget
	logger.Debugf("sized position: qty=%.6f method=%s risk=%.4f", res.Quantity, res.Method, res.RiskFraction)
	return res, nil
}

// kellySize uses the 1:1 payout Kelly fraction, deliberately kept as the
// simplified (3p-1)/2 form, damped by the configured multiplier.
func (s *Sizer) kellySize(in SizingInput) SizingResult {
	p := in.Confidence
	fraction := (2*p - (1 - p)) / 2 * s.cfg.KellyMultiplier
	if fraction < 0 {
		fraction = 0
	}
	return SizingResult{
		Quantity: in.Budget * fraction / in.Price,
		Method:   MethodKelly,
		Reason:   fmt.Sprintf("kelly fraction %.4f at confidence %.2f", fraction, p),
	}
}

// volatilitySize shrinks the fixed base size as volatility grows, with a
// hard floor of 10% of the base.
func (s *Sizer) volatilitySize(in SizingInput) SizingResult {
	scale := math.Max(0.1, 1-2*in.Volatility)
	base := in.Budget * s.cfg.MaxRiskPerPosition / in.Price
	return SizingResult{
		Quantity: base * scale,
		Method:   MethodVolatility,
		Reason:   fmt.Sprintf("volatility %.4f scales base by %.2f", in.Volatility, scale),
	}
}

// riskParitySize splits the portfolio risk budget evenly across existing
// open positions plus the new one.
func (s *Sizer) riskParitySize(in SizingInput) SizingResult {
	share := s.cfg.MaxTotalRisk / float64(in.OpenCount+1)
	return SizingResult{
		Quantity: in.Budget * share / in.Price,
		Method:   MethodRiskParity,
		Reason:   fmt.Sprintf("equal risk share %.4f across %d positions", share, in.OpenCount+1),
	}
}

func (s *Sizer) fixedSize(in SizingInput) SizingResult {
	return SizingResult{
		Quantity: in.Budget * s.cfg.MaxRiskPerPosition / in.Price,
		Method:   MethodFixed,
		Reason:   fmt.Sprintf("fixed %.1f%% of budget", s.cfg.MaxRiskPerPosition*100),
	}
}
