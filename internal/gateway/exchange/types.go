// Package exchange defines the abstract gateway the trading core talks to.
// Concrete backends (Binance, test doubles) implement it; the core treats
// every call as potentially slow, rate-limited and intermittently failing.
package exchange

import (
	"time"

	"voltra/internal/market"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const (
	TypeMarket     OrderType = "MARKET"
	TypeLimit      OrderType = "LIMIT"
	TypeStopLoss   OrderType = "STOP_LOSS"
	TypeTakeProfit OrderType = "TAKE_PROFIT"
)

// RequiresPrice reports whether the order type needs an explicit price.
func (t OrderType) RequiresPrice() bool {
	switch t {
	case TypeLimit, TypeStopLoss, TypeTakeProfit:
		return true
	default:
		return false
	}
}

type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether no further exchange transitions can occur.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// Ticker is a point-in-time quote for one symbol.
type Ticker struct {
	Symbol    string
	Last      float64
	Bid       float64
	Ask       float64
	High      float64 // 24h high
	Low       float64 // 24h low
	Volume    float64 // 24h base volume
	UpdatedAt time.Time
}

// Spread returns the relative bid/ask spread, 0 when unquotable.
func (t Ticker) Spread() float64 {
	if t.Bid <= 0 || t.Ask <= 0 || t.Ask < t.Bid {
		return 0
	}
	mid := (t.Bid + t.Ask) / 2
	if mid <= 0 {
		return 0
	}
	return (t.Ask - t.Bid) / mid
}

type BookLevel struct {
	Price    float64
	Quantity float64
}

type OrderBook struct {
	Symbol    string
	Bids      []BookLevel
	Asks      []BookLevel
	UpdatedAt time.Time
}

// BidDepth sums the quoted bid notional, a cheap liquidity proxy.
func (b OrderBook) BidDepth() float64 {
	total := 0.0
	for _, lvl := range b.Bids {
		total += lvl.Price * lvl.Quantity
	}
	return total
}

func (b OrderBook) AskDepth() float64 {
	total := 0.0
	for _, lvl := range b.Asks {
		total += lvl.Price * lvl.Quantity
	}
	return total
}

type AssetBalance struct {
	Asset  string
	Free   float64
	Locked float64
}

type AccountInfo struct {
	CanTrade  bool
	Balances  []AssetBalance
	UpdatedAt time.Time
}

// OrderRequest is what the lifecycle manager submits.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      float64
	Price         float64 // limit price, 0 for market
	StopPrice     float64 // trigger for stop/take-profit types
	TimeInForce   string  // "GTC" unless stated otherwise
	ClientOrderID string
}

// OrderAck is the exchange's immediate answer to a placement.
type OrderAck struct {
	OrderID          string
	ClientOrderID    string
	Symbol           string
	Status           OrderStatus
	ExecutedQuantity float64
	AvgPrice         float64
	TransactTime     time.Time
}

// OrderState is the polled view of a resting order.
type OrderState struct {
	OrderID          string
	ClientOrderID    string
	Symbol           string
	Side             OrderSide
	Type             OrderType
	Status           OrderStatus
	Quantity         float64
	Price            float64
	ExecutedQuantity float64
	AvgPrice         float64
	Commission       float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ExecutionReport is a pushed order-state transition from the user stream.
type ExecutionReport struct {
	Symbol           string
	OrderID          string
	ClientOrderID    string
	Side             OrderSide
	Status           OrderStatus
	ExecutedQuantity float64
	LastFillPrice    float64
	LastFillQty      float64
	Commission       float64
	EventTime        time.Time
}

// CandleEvent re-exported for gateway subscribers.
type CandleEvent = market.CandleEvent
