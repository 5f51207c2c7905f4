// Package binance implements the exchange.Gateway abstraction on top of the
// go-binance SDK (spot endpoints).
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"voltra/internal/gateway/exchange"
	"voltra/internal/market"
	"voltra/internal/pkg/convert"
	"voltra/internal/pkg/errs"
	symbolpkg "voltra/internal/pkg/symbol"
	"voltra/internal/scheduler"

	gobinance "github.com/adshao/go-binance/v2"
)

const maxHistoryLimit = 1000

// Gateway 基于 go-binance SDK 实现 exchange.Gateway。
type Gateway struct {
	cfg    Config
	client *gobinance.Client

	mu           sync.Mutex
	candleCancel context.CancelFunc
	userCancel   context.CancelFunc
}

func New(cfg Config) (*Gateway, error) {
	final := cfg.withDefaults()
	client := gobinance.NewClient(final.APIKey, final.APISecret)
	if final.RESTBaseURL != "" {
		client.BaseURL = final.RESTBaseURL
	}
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	if final.ProxyEnabled {
		wsProxy := final.WSProxyURL
		if wsProxy == "" {
			wsProxy = final.RESTProxyURL
		}
		if wsProxy != "" {
			gobinance.SetWsProxyUrl(wsProxy)
		}
	}
	return &Gateway{cfg: final, client: client}, nil
}

func (g *Gateway) Name() string { return "binance" }

func (g *Gateway) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	cleanSymbol, err := cleanBinanceSymbol(symbol)
	if err != nil {
		return nil, err
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, errs.Validation("gateway.candles", "interval is required")
	}
	kls, err := g.client.NewKlinesService().Symbol(cleanSymbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, classify("gateway.candles", err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      convert.ToFloat64(kl.Open),
			High:      convert.ToFloat64(kl.High),
			Low:       convert.ToFloat64(kl.Low),
			Close:     convert.ToFloat64(kl.Close),
			Volume:    convert.ToFloat64(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = scheduler.DropUnclosedKline(out, dur)
	}
	return out, nil
}

func (g *Gateway) GetTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	cleanSymbol, err := cleanBinanceSymbol(symbol)
	if err != nil {
		return exchange.Ticker{}, err
	}
	stats, err := g.client.NewListPriceChangeStatsService().Symbol(cleanSymbol).Do(ctx)
	if err != nil {
		return exchange.Ticker{}, classify("gateway.ticker", err)
	}
	if len(stats) == 0 || stats[0] == nil {
		return exchange.Ticker{}, errs.New(errs.KindExchangeAPI, "gateway.ticker", "empty ticker for %s", symbol)
	}
	st := stats[0]
	return exchange.Ticker{
		Symbol:    symbolpkg.Normalize(symbol),
		Last:      convert.ToFloat64(st.LastPrice),
		Bid:       convert.ToFloat64(st.BidPrice),
		Ask:       convert.ToFloat64(st.AskPrice),
		High:      convert.ToFloat64(st.HighPrice),
		Low:       convert.ToFloat64(st.LowPrice),
		Volume:    convert.ToFloat64(st.Volume),
		UpdatedAt: time.Now(),
	}, nil
}

func (g *Gateway) GetOrderBook(ctx context.Context, symbol string, depth int) (exchange.OrderBook, error) {
	cleanSymbol, err := cleanBinanceSymbol(symbol)
	if err != nil {
		return exchange.OrderBook{}, err
	}
	if depth <= 0 {
		depth = 20
	}
	resp, err := g.client.NewDepthService().Symbol(cleanSymbol).Limit(depth).Do(ctx)
	if err != nil {
		return exchange.OrderBook{}, classify("gateway.depth", err)
	}
	book := exchange.OrderBook{
		Symbol:    symbolpkg.Normalize(symbol),
		Bids:      make([]exchange.BookLevel, 0, len(resp.Bids)),
		Asks:      make([]exchange.BookLevel, 0, len(resp.Asks)),
		UpdatedAt: time.Now(),
	}
	for _, b := range resp.Bids {
		book.Bids = append(book.Bids, exchange.BookLevel{
			Price:    convert.ToFloat64(b.Price),
			Quantity: convert.ToFloat64(b.Quantity),
		})
	}
	for _, a := range resp.Asks {
		book.Asks = append(book.Asks, exchange.BookLevel{
			Price:    convert.ToFloat64(a.Price),
			Quantity: convert.ToFloat64(a.Quantity),
		})
	}
	return book, nil
}

func (g *Gateway) GetAccountInfo(ctx context.Context) (exchange.AccountInfo, error) {
	acct, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return exchange.AccountInfo{}, classify("gateway.account", err)
	}
	info := exchange.AccountInfo{
		CanTrade:  acct.CanTrade,
		UpdatedAt: time.Now(),
	}
	for _, bal := range acct.Balances {
		free := convert.ToFloat64(bal.Free)
		locked := convert.ToFloat64(bal.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		info.Balances = append(info.Balances, exchange.AssetBalance{
			Asset:  bal.Asset,
			Free:   free,
			Locked: locked,
		})
	}
	return info, nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	cleanSymbol, err := cleanBinanceSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}
	svc := g.client.NewCreateOrderService().
		Symbol(cleanSymbol).
		Side(toBinanceSide(req.Side)).
		Type(toBinanceType(req.Type)).
		Quantity(formatQty(req.Quantity))
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	if req.Type == exchange.TypeLimit {
		tif := gobinance.TimeInForceTypeGTC
		if strings.EqualFold(req.TimeInForce, "IOC") {
			tif = gobinance.TimeInForceTypeIOC
		} else if strings.EqualFold(req.TimeInForce, "FOK") {
			tif = gobinance.TimeInForceTypeFOK
		}
		svc = svc.TimeInForce(tif).Price(formatQty(req.Price))
	}
	if req.StopPrice > 0 {
		svc = svc.StopPrice(formatQty(req.StopPrice))
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, classify("gateway.place", err)
	}
	ack := &exchange.OrderAck{
		OrderID:          strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID:    resp.ClientOrderID,
		Symbol:           symbolpkg.Normalize(req.Symbol),
		Status:           exchange.OrderStatus(resp.Status),
		ExecutedQuantity: convert.ToFloat64(resp.ExecutedQuantity),
		TransactTime:     time.UnixMilli(resp.TransactTime),
	}
	if ack.ExecutedQuantity > 0 {
		quote := convert.ToFloat64(resp.CummulativeQuoteQuantity)
		if quote > 0 {
			ack.AvgPrice = quote / ack.ExecutedQuantity
		}
	}
	return ack, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	cleanSymbol, err := cleanBinanceSymbol(symbol)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return errs.Validation("gateway.cancel", "invalid order id %q", orderID)
	}
	if _, err := g.client.NewCancelOrderService().Symbol(cleanSymbol).OrderID(id).Do(ctx); err != nil {
		return classify("gateway.cancel", err)
	}
	return nil
}

func (g *Gateway) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.OrderState, error) {
	cleanSymbol, err := cleanBinanceSymbol(symbol)
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, errs.Validation("gateway.order", "invalid order id %q", orderID)
	}
	ord, err := g.client.NewGetOrderService().Symbol(cleanSymbol).OrderID(id).Do(ctx)
	if err != nil {
		return nil, classify("gateway.order", err)
	}
	state := convertOrder(symbolpkg.Normalize(symbol), ord)
	return &state, nil
}

func (g *Gateway) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OrderState, error) {
	svc := g.client.NewListOpenOrdersService()
	if strings.TrimSpace(symbol) != "" {
		cleanSymbol, err := cleanBinanceSymbol(symbol)
		if err != nil {
			return nil, err
		}
		svc = svc.Symbol(cleanSymbol)
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, classify("gateway.openOrders", err)
	}
	out := make([]exchange.OrderState, 0, len(orders))
	for _, ord := range orders {
		if ord == nil {
			continue
		}
		out = append(out, convertOrder(symbolpkg.Binance.FromExchange(ord.Symbol), ord))
	}
	return out, nil
}

func convertOrder(symbol string, ord *gobinance.Order) exchange.OrderState {
	executed := convert.ToFloat64(ord.ExecutedQuantity)
	state := exchange.OrderState{
		OrderID:          strconv.FormatInt(ord.OrderID, 10),
		ClientOrderID:    ord.ClientOrderID,
		Symbol:           symbol,
		Side:             exchange.OrderSide(ord.Side),
		Type:             exchange.OrderType(ord.Type),
		Status:           exchange.OrderStatus(ord.Status),
		Quantity:         convert.ToFloat64(ord.OrigQuantity),
		Price:            convert.ToFloat64(ord.Price),
		ExecutedQuantity: executed,
		CreatedAt:        time.UnixMilli(ord.Time),
		UpdatedAt:        time.UnixMilli(ord.UpdateTime),
	}
	if executed > 0 {
		quote := convert.ToFloat64(ord.CummulativeQuoteQuantity)
		if quote > 0 {
			state.AvgPrice = quote / executed
		}
	}
	return state
}

func cleanBinanceSymbol(symbol string) (string, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return "", errs.Validation("gateway", "symbol is required")
	}
	// Binance wants symbols without slashes (ETHUSDT, not ETH/USDT).
	return symbolpkg.Binance.ToExchange(symbol), nil
}

func toBinanceSide(side exchange.OrderSide) gobinance.SideType {
	if side == exchange.SideSell {
		return gobinance.SideTypeSell
	}
	return gobinance.SideTypeBuy
}

func toBinanceType(t exchange.OrderType) gobinance.OrderType {
	switch t {
	case exchange.TypeLimit:
		return gobinance.OrderTypeLimit
	case exchange.TypeStopLoss:
		return gobinance.OrderTypeStopLossLimit
	case exchange.TypeTakeProfit:
		return gobinance.OrderTypeTakeProfitLimit
	default:
		return gobinance.OrderTypeMarket
	}
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
