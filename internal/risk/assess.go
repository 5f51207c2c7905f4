package risk

import (
	"fmt"
	"math"
)

type RiskLevel string

const (
	LevelLow      RiskLevel = "LOW"
	LevelMedium   RiskLevel = "MEDIUM"
	LevelHigh     RiskLevel = "HIGH"
	LevelCritical RiskLevel = "CRITICAL"
)

// ExistingPosition is the slice of portfolio state risk scoring needs.
type ExistingPosition struct {
	Symbol string
	Risk   float64 // the position's total risk score at entry
}

// AssessInput describes the candidate position and its surroundings.
type AssessInput struct {
	Symbol     string
	Quantity   float64
	Price      float64
	Budget     float64 // total portfolio budget, quote currency
	Volatility float64
	Existing   []ExistingPosition
}

// PositionRisk breaks the score into its components so validation
// failures can name the dominant term.
type PositionRisk struct {
	Weight          float64   `json:"weight"`
	CorrelationRisk float64   `json:"correlation_risk"`
	MarketRisk      float64   `json:"market_risk"`
	LiquidityRisk   float64   `json:"liquidity_risk"`
	Total           float64   `json:"total"`
	Level           RiskLevel `json:"level"`
}

// AssessRisk scores a candidate position. Correlation contributes a flat
// 0.02 per sufficiently correlated existing position; market risk scales
// with volatility; liquidity risk grows with order size.
func (s *Sizer) AssessRisk(in AssessInput) PositionRisk {
	var r PositionRisk
	if in.Budget > 0 {
		r.Weight = in.Quantity * in.Price / in.Budget
	}
	for _, ex := range in.Existing {
		if ex.Symbol == in.Symbol || s.corr == nil {
			continue
		}
		corr := math.Abs(s.corr.Correlation(in.Symbol, ex.Symbol))
		if corr > s.cfg.CorrelationThreshold {
			r.CorrelationRisk += 0.02 * corr
		}
	}
	r.MarketRisk = in.Volatility * 0.1
	r.LiquidityRisk = 0.01 + math.Min(in.Quantity/1000, 0.05)
	r.Total = r.Weight + r.CorrelationRisk + r.MarketRisk + r.LiquidityRisk
	r.Level = levelForScore(r.Total)
	return r
}

func levelForScore(total float64) RiskLevel {
	switch {
	case total < 0.05:
		return LevelLow
	case total < 0.10:
		return LevelMedium
	case total < 0.20:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// ValidatePosition gates a candidate entry against portfolio limits.
// The returned reasons enumerate every violated limit, not just the first.
func (s *Sizer) ValidatePosition(in AssessInput) (PositionRisk, []string) {
	risk := s.AssessRisk(in)
	var reasons []string

	if len(in.Existing) >= s.cfg.MaxPositions {
		reasons = append(reasons, fmt.Sprintf(
			"position count %d at ceiling %d", len(in.Existing), s.cfg.MaxPositions))
	}
	if risk.Total > s.cfg.MaxRiskPerPosition {
		reasons = append(reasons, fmt.Sprintf(
			"position risk %.4f exceeds per-position limit %.4f", risk.Total, s.cfg.MaxRiskPerPosition))
	}
	existingTotal := 0.0
	for _, ex := range in.Existing {
		existingTotal += ex.Risk
	}
	if existingTotal+risk.Total > s.cfg.MaxTotalRisk {
		reasons = append(reasons, fmt.Sprintf(
			"total portfolio risk %.4f exceeds limit %.4f", existingTotal+risk.Total, s.cfg.MaxTotalRisk))
	}
	if risk.CorrelationRisk > s.cfg.MaxCorrelationRisk {
		reasons = append(reasons, fmt.Sprintf(
			"correlation risk %.4f exceeds limit %.4f", risk.CorrelationRisk, s.cfg.MaxCorrelationRisk))
	}
	return risk, reasons
}
