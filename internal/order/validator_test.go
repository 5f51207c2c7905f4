package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltra/internal/gateway/exchange"
	"voltra/internal/pkg/errs"
)

func validOrder() *Order {
	return &Order{
		Symbol:        "BTCUSDT",
		Side:          exchange.SideBuy,
		Type:          exchange.TypeMarket,
		Quantity:      0.5,
		ExpectedPrice: 50000,
	}
}

func TestValidatorValidate(t *testing.T) {
	v := NewValidator(ValidatorConfig{MinOrderValue: 10, MaxOrderValue: 100000, MaxActivePerSymbol: 2})

	t.Run("valid market order", func(t *testing.T) {
		warnings, err := v.Validate(validOrder(), 0)
		require.NoError(t, err)
		assert.Empty(t, warnings)
	})

	t.Run("missing fields enumerated", func(t *testing.T) {
		_, err := v.Validate(&Order{}, 0)
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		assert.Contains(t, err.Error(), "symbol is required")
		assert.Contains(t, err.Error(), "side is required")
		assert.Contains(t, err.Error(), "quantity must be positive")
	})

	t.Run("limit order requires price", func(t *testing.T) {
		o := validOrder()
		o.Type = exchange.TypeLimit
		o.Price = 0
		_, err := v.Validate(o, 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "require a price")
	})

	t.Run("value bounds", func(t *testing.T) {
		small := validOrder()
		small.Quantity = 0.0001
		_, err := v.Validate(small, 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "below minimum")

		big := validOrder()
		big.Quantity = 100
		_, err = v.Validate(big, 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "above maximum")
	})

	t.Run("active per-symbol ceiling", func(t *testing.T) {
		_, err := v.Validate(validOrder(), 2)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "active orders")
	})

	t.Run("large quantity warns without failing", func(t *testing.T) {
		loose := NewValidator(ValidatorConfig{MaxOrderValue: 1e12, WarnQuantity: 100})
		o := validOrder()
		o.Quantity = 500
		warnings, err := loose.Validate(o, 0)
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "unusually large")
	})
}
