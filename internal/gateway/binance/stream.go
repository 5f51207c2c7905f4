package binance

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"voltra/internal/gateway/exchange"
	"voltra/internal/logger"
	"voltra/internal/market"
	"voltra/internal/pkg/convert"
	"voltra/internal/pkg/errs"
	symbolpkg "voltra/internal/pkg/symbol"

	gobinance "github.com/adshao/go-binance/v2"
)

// SubscribeCandles streams closed candles for every (symbol, interval)
// pair. One combined websocket per interval; each reconnects on its own
// with exponential backoff.
func (g *Gateway) SubscribeCandles(ctx context.Context, symbols, intervals []string, opts market.SubscribeOptions) (<-chan market.CandleEvent, error) {
	symbolMap := make(map[string]string)
	cleanSymbols := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		normalized := symbolpkg.Normalize(sym)
		if normalized == "" {
			continue
		}
		clean := symbolpkg.Binance.ToExchange(normalized)
		symbolMap[clean] = normalized
		cleanSymbols = append(cleanSymbols, clean)
	}
	cleanIntervals := make([]string, 0, len(intervals))
	for _, iv := range intervals {
		iv = strings.ToLower(strings.TrimSpace(iv))
		if iv != "" {
			cleanIntervals = append(cleanIntervals, iv)
		}
	}
	if len(cleanSymbols) == 0 || len(cleanIntervals) == 0 {
		return nil, errs.Validation("gateway.subscribe", "no valid symbols or intervals for subscription")
	}

	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 512
	}
	out := make(chan market.CandleEvent, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	g.mu.Lock()
	if g.candleCancel != nil {
		g.candleCancel()
	}
	g.candleCancel = cancel
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, interval := range cleanIntervals {
		pairs := make(map[string]string, len(cleanSymbols))
		for _, sym := range cleanSymbols {
			pairs[sym] = interval
		}
		wg.Add(1)
		go func(pairs map[string]string) {
			defer wg.Done()
			g.runKlineLoop(subCtx, pairs, symbolMap, out, opts)
		}(pairs)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (g *Gateway) runKlineLoop(ctx context.Context, pairs, symbolMap map[string]string, out chan<- market.CandleEvent, opts market.SubscribeOptions) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		var errMu sync.Mutex
		var lastErr error
		handler := func(event *gobinance.WsKlineEvent) {
			ce, ok := convertKlineEvent(event)
			if !ok {
				return
			}
			if original, ok := symbolMap[ce.Symbol]; ok {
				ce.Symbol = original
			}
			select {
			case <-ctx.Done():
				return
			case out <- ce:
			default:
				logger.Warnf("[binance] kline channel full, drop %s %s", ce.Symbol, ce.Interval)
			}
		}
		errHandler := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}
		doneC, stopC, err := gobinance.WsCombinedKlineServe(pairs, handler, errHandler)
		if err != nil {
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		close(stopC)
		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		if errCopy != nil {
			logger.Warnf("[binance] kline stream dropped: %v", errCopy)
		}
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(errCopy)
		}
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

// SubscribeUserData listens to the account stream and forwards order-state
// transitions. The listen key is refreshed on the configured keepalive
// interval; the stream reconnects with a fresh key after a drop.
func (g *Gateway) SubscribeUserData(ctx context.Context, handler func(exchange.ExecutionReport)) error {
	if handler == nil {
		return errs.Validation("gateway.subscribe", "user data handler is required")
	}
	subCtx, cancel := context.WithCancel(ctx)

	g.mu.Lock()
	if g.userCancel != nil {
		g.userCancel()
	}
	g.userCancel = cancel
	g.mu.Unlock()

	go g.runUserDataLoop(subCtx, handler)
	return nil
}

func (g *Gateway) runUserDataLoop(ctx context.Context, handler func(exchange.ExecutionReport)) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		listenKey, err := g.client.NewStartUserStreamService().Do(ctx)
		if err != nil {
			logger.Warnf("[binance] user stream start failed: %v", err)
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}

		keepCtx, stopKeepalive := context.WithCancel(ctx)
		go g.keepaliveLoop(keepCtx, listenKey)

		wsHandler := func(event *gobinance.WsUserDataEvent) {
			if event == nil || event.Event != gobinance.UserDataEventTypeExecutionReport {
				return
			}
			handler(convertOrderUpdate(event.OrderUpdate))
		}
		errHandler := func(err error) {
			if err != nil {
				logger.Warnf("[binance] user stream error: %v", err)
			}
		}
		doneC, stopC, err := gobinance.WsUserDataServe(listenKey, wsHandler, errHandler)
		if err != nil {
			stopKeepalive()
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			stopKeepalive()
			return
		case <-doneC:
		}
		close(stopC)
		stopKeepalive()
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func (g *Gateway) keepaliveLoop(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(g.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
				logger.Warnf("[binance] user stream keepalive failed: %v", err)
			}
		}
	}
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.candleCancel != nil {
		g.candleCancel()
		g.candleCancel = nil
	}
	if g.userCancel != nil {
		g.userCancel()
		g.userCancel = nil
	}
	return nil
}

func convertKlineEvent(event *gobinance.WsKlineEvent) (market.CandleEvent, bool) {
	if event == nil {
		return market.CandleEvent{}, false
	}
	k := event.Kline
	return market.CandleEvent{
		Symbol:   event.Symbol,
		Interval: k.Interval,
		Closed:   k.IsFinal,
		Candle: market.Candle{
			OpenTime:  k.StartTime,
			CloseTime: k.EndTime,
			Open:      convert.ToFloat64(k.Open),
			High:      convert.ToFloat64(k.High),
			Low:       convert.ToFloat64(k.Low),
			Close:     convert.ToFloat64(k.Close),
			Volume:    convert.ToFloat64(k.Volume),
			Trades:    k.TradeNum,
		},
	}, true
}

func convertOrderUpdate(u gobinance.WsOrderUpdate) exchange.ExecutionReport {
	return exchange.ExecutionReport{
		Symbol:           symbolpkg.Binance.FromExchange(u.Symbol),
		OrderID:          strconv.FormatInt(u.Id, 10),
		ClientOrderID:    u.ClientOrderId,
		Side:             exchange.OrderSide(u.Side),
		Status:           exchange.OrderStatus(u.Status),
		ExecutedQuantity: convert.ToFloat64(u.FilledVolume),
		LastFillPrice:    convert.ToFloat64(u.LatestPrice),
		LastFillQty:      convert.ToFloat64(u.LatestVolume),
		Commission:       convert.ToFloat64(u.FeeCost),
		EventTime:        time.UnixMilli(u.TransactionTime),
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(delay time.Duration) time.Duration {
	delay *= 2
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}
