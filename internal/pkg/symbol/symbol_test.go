package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"btcusdt":        "BTCUSDT",
		"BTC/USDT":       "BTCUSDT",
		"BTC/USDT:USDT":  "BTCUSDT",
		" ethusdt ":      "ETHUSDT",
		"SOLBNB":         "SOLBNB",
		"WEIRDQUOTE-XYZ": "WEIRDQUOTE-XYZ", // unknown quote falls back to uppercase
		"":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestParse(t *testing.T) {
	sym := Parse("BTC/USDT")
	assert.Equal(t, "BTC", sym.Base)
	assert.Equal(t, "USDT", sym.Quote)
	assert.Equal(t, "BTCUSDT", sym.Flat())
	assert.Equal(t, "BTC/USDT", sym.Pair())

	assert.True(t, IsValid("ETHUSDT"))
	assert.False(t, IsValid("???"))
}

func TestNormalizeList(t *testing.T) {
	got := NormalizeList([]string{"btcusdt", "BTC/USDT", "ethusdt", ""})
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, got)
}
