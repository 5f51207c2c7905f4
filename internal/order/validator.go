package order

import (
	"fmt"
	"strings"

	"voltra/internal/pkg/errs"
)

// ValidatorConfig bounds what the basic layer accepts. Values are in the
// quote currency.
type ValidatorConfig struct {
	MinOrderValue      float64 `mapstructure:"min_order_value"`
	MaxOrderValue      float64 `mapstructure:"max_order_value"`
	WarnQuantity       float64 `mapstructure:"warn_quantity"`
	MaxActivePerSymbol int     `mapstructure:"max_active_per_symbol"`
}

func (c ValidatorConfig) withDefaults() ValidatorConfig {
	if c.MinOrderValue <= 0 {
		c.MinOrderValue = 10
	}
	if c.MaxOrderValue <= 0 {
		c.MaxOrderValue = 1_000_000
	}
	if c.WarnQuantity <= 0 {
		c.WarnQuantity = 10_000
	}
	if c.MaxActivePerSymbol <= 0 {
		c.MaxActivePerSymbol = 5
	}
	return c
}

// Validator 是基础校验层:字段、数量、价格、订单价值与单币种活跃上限。
type Validator struct {
	cfg ValidatorConfig
}

func NewValidator(cfg ValidatorConfig) *Validator {
	return &Validator{cfg: cfg.withDefaults()}
}

// Validate returns soft warnings and a hard error. activeForSymbol is the
// caller's count of currently active orders on the symbol.
func (v *Validator) Validate(o *Order, activeForSymbol int) ([]string, error) {
	var problems []string
	if strings.TrimSpace(o.Symbol) == "" {
		problems = append(problems, "symbol is required")
	}
	if o.Side == "" {
		problems = append(problems, "side is required")
	}
	if o.Type == "" {
		problems = append(problems, "order type is required")
	}
	if o.Quantity <= 0 {
		problems = append(problems, "quantity must be positive")
	}
	if o.Type.RequiresPrice() && o.Price <= 0 {
		problems = append(problems, fmt.Sprintf("%s orders require a price", o.Type))
	}
	if len(problems) > 0 {
		return nil, errs.Validation("order.validate", "%s", strings.Join(problems, "; "))
	}

	value := o.Notional()
	if value < v.cfg.MinOrderValue {
		return nil, errs.Validation("order.validate",
			"order value %.2f below minimum %.2f", value, v.cfg.MinOrderValue)
	}
	if value > v.cfg.MaxOrderValue {
		return nil, errs.Validation("order.validate",
			"order value %.2f above maximum %.2f", value, v.cfg.MaxOrderValue)
	}
	if activeForSymbol >= v.cfg.MaxActivePerSymbol {
		return nil, errs.Validation("order.validate",
			"%d active orders on %s, limit %d", activeForSymbol, o.Symbol, v.cfg.MaxActivePerSymbol)
	}

	var warnings []string
	if o.Quantity >= v.cfg.WarnQuantity {
		warnings = append(warnings, fmt.Sprintf("quantity %.2f is unusually large", o.Quantity))
	}
	return warnings, nil
}
