package order

import (
	"fmt"
	"strings"
	"sync"

	"voltra/internal/gateway/exchange"
	"voltra/internal/logger"
	"voltra/internal/pkg/errs"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// RuleContext is the market and portfolio snapshot the rules evaluate
// against. Gather it before evaluation; rules never make network calls.
type RuleContext struct {
	Order         *Order
	Ticker        *exchange.Ticker
	Book          *exchange.OrderBook
	Volatility    float64
	PortfolioRisk float64 // projected total including this order
	OpenPositions int
	MarketOpen    bool
	NewsBlackout  bool
}

// RuleResult names the rule so no failure is ever anonymous.
type RuleResult struct {
	Rule     string   `json:"rule"`
	Passed   bool     `json:"passed"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message,omitempty"`
}

// Rule is one composable validation check.
type Rule interface {
	ID() string
	Validate(rc RuleContext) RuleResult
}

// RuleSet 按注册顺序执行规则,可逐条启停;顺序确定以便测试复现。
type RuleSet struct {
	mu       sync.RWMutex
	order    []string
	rules    map[string]Rule
	disabled map[string]bool
	// AllowHighOverride lets HIGH failures pass with a warning.
	AllowHighOverride bool
}

func NewRuleSet() *RuleSet {
	return &RuleSet{
		rules:    make(map[string]Rule),
		disabled: make(map[string]bool),
	}
}

// DefaultRuleSet wires the standard rule chain in its canonical order.
func DefaultRuleSet(cfg RulesConfig) *RuleSet {
	cfg = cfg.withDefaults()
	rs := NewRuleSet()
	rs.Register(volatilityRule{max: cfg.MaxVolatility})
	rs.Register(liquidityRule{minDepthRatio: cfg.MinDepthRatio})
	rs.Register(exposureRule{max: cfg.MaxPortfolioRisk})
	rs.Register(blackoutRule{})
	rs.Register(confidenceRule{min: cfg.MinConfidence})
	rs.Register(positionCountRule{max: cfg.MaxOpenPositions})
	rs.Register(spreadRule{max: cfg.MaxSpread})
	return rs
}

func (rs *RuleSet) Register(r Rule) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, exists := rs.rules[r.ID()]; !exists {
		rs.order = append(rs.order, r.ID())
	}
	rs.rules[r.ID()] = r
}

func (rs *RuleSet) SetEnabled(id string, enabled bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.disabled[id] = !enabled
}

// Evaluate runs every enabled rule in registration order. Any CRITICAL
// failure aborts immediately; HIGH failures abort unless the override is
// set; MEDIUM and LOW failures pass with a warning.
func (rs *RuleSet) Evaluate(rc RuleContext) ([]RuleResult, error) {
	rs.mu.RLock()
	ids := append([]string(nil), rs.order...)
	override := rs.AllowHighOverride
	rs.mu.RUnlock()

	var results []RuleResult
	var highFailures []string
	for _, id := range ids {
		rs.mu.RLock()
		rule, disabled := rs.rules[id], rs.disabled[id]
		rs.mu.RUnlock()
		if disabled {
			continue
		}
		res := rule.Validate(rc)
		results = append(results, res)
		if res.Passed {
			continue
		}
		switch res.Severity {
		case SeverityCritical:
			return results, errs.Validation("order.rules",
				"rule %s failed (CRITICAL): %s", res.Rule, res.Message)
		case SeverityHigh:
			if !override {
				highFailures = append(highFailures, fmt.Sprintf("%s: %s", res.Rule, res.Message))
			} else {
				logger.Warnf("rule %s failed (HIGH, overridden): %s", res.Rule, res.Message)
			}
		default:
			logger.Warnf("rule %s failed (%s): %s", res.Rule, res.Severity, res.Message)
		}
	}
	if len(highFailures) > 0 {
		return results, errs.Validation("order.rules",
			"high severity rule failures: %s", strings.Join(highFailures, "; "))
	}
	return results, nil
}

// RulesConfig holds the thresholds of the default chain.
type RulesConfig struct {
	MaxVolatility    float64 `mapstructure:"max_volatility"`
	MinDepthRatio    float64 `mapstructure:"min_depth_ratio"`
	MaxPortfolioRisk float64 `mapstructure:"max_portfolio_risk"`
	MinConfidence    float64 `mapstructure:"min_confidence"`
	MaxOpenPositions int     `mapstructure:"max_open_positions"`
	MaxSpread        float64 `mapstructure:"max_spread"`
}

func (c RulesConfig) withDefaults() RulesConfig {
	if c.MaxVolatility <= 0 {
		c.MaxVolatility = 0.15
	}
	if c.MinDepthRatio <= 0 {
		c.MinDepthRatio = 0.10
	}
	if c.MaxPortfolioRisk <= 0 {
		c.MaxPortfolioRisk = 0.20
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.6
	}
	if c.MaxOpenPositions <= 0 {
		c.MaxOpenPositions = 10
	}
	if c.MaxSpread <= 0 {
		c.MaxSpread = 0.01
	}
	return c
}

type volatilityRule struct{ max float64 }

func (volatilityRule) ID() string { return "market_volatility" }

func (r volatilityRule) Validate(rc RuleContext) RuleResult {
	if rc.Volatility > r.max {
		return RuleResult{Rule: r.ID(), Severity: SeverityHigh,
			Message: fmt.Sprintf("volatility %.4f above ceiling %.4f", rc.Volatility, r.max)}
	}
	return RuleResult{Rule: r.ID(), Passed: true, Severity: SeverityLow}
}

// liquidityRule requires the quoted depth on the side the order would
// consume to cover at least minDepthRatio of the order's notional.
type liquidityRule struct{ minDepthRatio float64 }

func (liquidityRule) ID() string { return "liquidity" }

func (r liquidityRule) Validate(rc RuleContext) RuleResult {
	if rc.Book == nil {
		return RuleResult{Rule: r.ID(), Severity: SeverityMedium, Message: "order book unavailable"}
	}
	depth := rc.Book.AskDepth()
	if rc.Order.Side == exchange.SideSell {
		depth = rc.Book.BidDepth()
	}
	notional := rc.Order.Notional()
	if depth < notional*r.minDepthRatio {
		return RuleResult{Rule: r.ID(), Severity: SeverityHigh,
			Message: fmt.Sprintf("quoted depth %.2f below %.0f%% of order value %.2f",
				depth, r.minDepthRatio*100, notional)}
	}
	return RuleResult{Rule: r.ID(), Passed: true, Severity: SeverityLow}
}

type exposureRule struct{ max float64 }

func (exposureRule) ID() string { return "portfolio_exposure" }

func (r exposureRule) Validate(rc RuleContext) RuleResult {
	if rc.PortfolioRisk > r.max {
		return RuleResult{Rule: r.ID(), Severity: SeverityCritical,
			Message: fmt.Sprintf("projected portfolio risk %.4f above ceiling %.4f", rc.PortfolioRisk, r.max)}
	}
	return RuleResult{Rule: r.ID(), Passed: true, Severity: SeverityLow}
}

type blackoutRule struct{}

func (blackoutRule) ID() string { return "market_blackout" }

func (blackoutRule) Validate(rc RuleContext) RuleResult {
	if !rc.MarketOpen {
		return RuleResult{Rule: "market_blackout", Severity: SeverityCritical, Message: "market is closed"}
	}
	if rc.NewsBlackout {
		return RuleResult{Rule: "market_blackout", Severity: SeverityHigh, Message: "news event blackout active"}
	}
	return RuleResult{Rule: "market_blackout", Passed: true, Severity: SeverityLow}
}

type confidenceRule struct{ min float64 }

func (confidenceRule) ID() string { return "min_confidence" }

func (r confidenceRule) Validate(rc RuleContext) RuleResult {
	if rc.Order.Confidence < r.min {
		return RuleResult{Rule: r.ID(), Severity: SeverityHigh,
			Message: fmt.Sprintf("confidence %.2f below minimum %.2f", rc.Order.Confidence, r.min)}
	}
	return RuleResult{Rule: r.ID(), Passed: true, Severity: SeverityLow}
}

type positionCountRule struct{ max int }

func (positionCountRule) ID() string { return "position_count" }

func (r positionCountRule) Validate(rc RuleContext) RuleResult {
	if rc.OpenPositions >= r.max {
		return RuleResult{Rule: r.ID(), Severity: SeverityHigh,
			Message: fmt.Sprintf("%d open positions at ceiling %d", rc.OpenPositions, r.max)}
	}
	return RuleResult{Rule: r.ID(), Passed: true, Severity: SeverityLow}
}

type spreadRule struct{ max float64 }

func (spreadRule) ID() string { return "max_spread" }

func (r spreadRule) Validate(rc RuleContext) RuleResult {
	if rc.Ticker == nil {
		return RuleResult{Rule: r.ID(), Severity: SeverityMedium, Message: "ticker unavailable"}
	}
	if spread := rc.Ticker.Spread(); spread > r.max {
		return RuleResult{Rule: r.ID(), Severity: SeverityMedium,
			Message: fmt.Sprintf("spread %.4f above ceiling %.4f", spread, r.max)}
	}
	return RuleResult{Rule: r.ID(), Passed: true, Severity: SeverityLow}
}
