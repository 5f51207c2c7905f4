package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	for name, rule := range c.RateLimits {
		if rule.Limit <= 0 {
			return fmt.Errorf("rate_limits.%s.limit must be positive", name)
		}
		if rule.WindowSeconds <= 0 {
			return fmt.Errorf("rate_limits.%s.window_seconds must be positive", name)
		}
	}
	if err := validateWeights(c.Decision.SentimentWeight, c.Decision.TechnicalWeight); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Portfolios))
	for i, seed := range c.Portfolios {
		if err := seed.validate(i); err != nil {
			return err
		}
		name := strings.ToLower(strings.TrimSpace(seed.Name))
		if seen[name] {
			return fmt.Errorf("portfolios contains duplicate name %q", seed.Name)
		}
		seen[name] = true
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if strings.TrimSpace(m.Interval) == "" {
		return fmt.Errorf("market.interval cannot be empty")
	}
	if m.CandleLimit < 0 {
		return fmt.Errorf("market.candle_limit must be >= 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if !tg.Enabled {
		return nil
	}
	if strings.TrimSpace(tg.BotToken) == "" {
		return fmt.Errorf("notify.telegram.bot_token required when telegram is enabled")
	}
	if strings.TrimSpace(tg.ChatID) == "" {
		return fmt.Errorf("notify.telegram.chat_id required when telegram is enabled")
	}
	return nil
}

func validateWeights(sentiment, technical float64) error {
	if sentiment < 0 || technical < 0 {
		return fmt.Errorf("decision weights must be >= 0")
	}
	if sentiment > 1 || technical > 1 {
		return fmt.Errorf("decision weights must be <= 1")
	}
	return nil
}

func (p PortfolioSeed) validate(idx int) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("portfolios[%d].name cannot be empty", idx)
	}
	if p.BudgetTotal <= 0 {
		return fmt.Errorf("portfolios[%d].budget_total must be positive", idx)
	}
	total := 0.0
	for _, s := range p.Symbols {
		if strings.TrimSpace(s.Symbol) == "" {
			return fmt.Errorf("portfolios[%d] contains symbol entry without symbol", idx)
		}
		if s.AllocationPct < 0 || s.AllocationPct > 100 {
			return fmt.Errorf("portfolios[%d].%s allocation must be within [0, 100]", idx, s.Symbol)
		}
		total += s.AllocationPct
	}
	if total > 100 {
		return fmt.Errorf("portfolios[%d] allocations sum to %.1f%%, exceeding 100%%", idx, total)
	}
	return nil
}
