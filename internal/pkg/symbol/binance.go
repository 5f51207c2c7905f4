package symbol

// BinanceConverter maps between the internal form and Binance's REST/WS
// notation. Binance uses the flat form too, so both directions reduce to
// normalization.
type BinanceConverter struct{}

func (BinanceConverter) ToExchange(internal string) string {
	return Normalize(internal)
}

func (BinanceConverter) FromExchange(raw string) string {
	return Normalize(raw)
}

var Binance = BinanceConverter{}
