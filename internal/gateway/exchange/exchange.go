package exchange

import (
	"context"

	"voltra/internal/market"
)

type Gateway interface {
	Name() string

	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)

	GetTicker(ctx context.Context, symbol string) (Ticker, error)

	GetOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)

	GetAccountInfo(ctx context.Context) (AccountInfo, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)

	CancelOrder(ctx context.Context, symbol, orderID string) error

	GetOrder(ctx context.Context, symbol, orderID string) (*OrderState, error)

	GetOpenOrders(ctx context.Context, symbol string) ([]OrderState, error)
}

// Streamer is the optional push side of a gateway: closed-candle events and
// account execution reports. Close tears down every live subscription.
type Streamer interface {
	SubscribeCandles(ctx context.Context, symbols, intervals []string, opts market.SubscribeOptions) (<-chan market.CandleEvent, error)

	SubscribeUserData(ctx context.Context, handler func(ExecutionReport)) error

	Close() error
}
