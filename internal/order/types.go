// Package order validates, places and monitors orders. Placement runs
// through the rate limiter, the circuit breaker and the retry policy;
// accepted orders are polled until a terminal status.
package order

import (
	"time"

	"voltra/internal/gateway/exchange"
)

// Order is the lifecycle manager's own record of one submission. The
// exchange's view arrives via OrderAck/OrderState and is folded in here.
type Order struct {
	ID          string             `json:"id"` // client order id
	PortfolioID string             `json:"portfolio_id"`
	Symbol      string             `json:"symbol"`
	Side        exchange.OrderSide `json:"side"`
	Type        exchange.OrderType `json:"type"`
	Quantity    float64            `json:"quantity"`
	Price       float64            `json:"price,omitempty"`
	StopPrice   float64            `json:"stop_price,omitempty"`

	// ExpectedPrice is the decision-time reference used for slippage.
	ExpectedPrice float64 `json:"expected_price"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason,omitempty"`

	ExchangeID       string               `json:"exchange_id,omitempty"`
	Status           exchange.OrderStatus `json:"status"`
	ExecutedQuantity float64              `json:"executed_quantity"`
	AvgFillPrice     float64              `json:"avg_fill_price"`
	Commission       float64              `json:"commission"`
	Attempts         int                  `json:"attempts"`

	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Notional is the order's quote value at the best known price.
func (o *Order) Notional() float64 {
	price := o.Price
	if price <= 0 {
		price = o.ExpectedPrice
	}
	return o.Quantity * price
}

func (o *Order) request() exchange.OrderRequest {
	tif := ""
	if o.Type == exchange.TypeLimit {
		tif = "GTC"
	}
	return exchange.OrderRequest{
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          o.Type,
		Quantity:      o.Quantity,
		Price:         o.Price,
		StopPrice:     o.StopPrice,
		TimeInForce:   tif,
		ClientOrderID: o.ID,
	}
}

type EventType string

const (
	EventPlaced   EventType = "PLACED"
	EventFilled   EventType = "FILLED"
	EventCanceled EventType = "CANCELED"
	EventFailed   EventType = "FAILED"
	EventTimeout  EventType = "MONITOR_TIMEOUT"
)

// Event is the outbound notification emitted on every placement outcome,
// success and failure alike, independent of the returned error.
type Event struct {
	Type  EventType `json:"type"`
	Order Order     `json:"order"`
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"time"`
}
