// Package engine 驱动整个交易循环:按 K 线收盘节奏刷新技术面与情绪面,
// 交给决策引擎评估,再经风险定级与规则校验后提交订单。
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"voltra/internal/analysis"
	"voltra/internal/decision"
	"voltra/internal/gateway/exchange"
	"voltra/internal/logger"
	"voltra/internal/market"
	"voltra/internal/order"
	"voltra/internal/pkg/ratelimit"
	"voltra/internal/portfolio"
	"voltra/internal/risk"
	"voltra/internal/scheduler"
	"voltra/internal/sentiment"
	"voltra/internal/store"
	"voltra/internal/store/decisionlog"
	"voltra/internal/store/model"
)

const (
	queryRateCategory = "queries"
	tickerCacheTTL    = 5 * time.Second
	bookDepth         = 20
	schedulerOffset   = 5 * time.Second
)

// Config 是引擎自身的节奏参数,业务阈值都在各组件配置里。
type Config struct {
	Interval        string
	CandleLimit     int
	PreheatLookback int
	PreheatRPS      float64
	SweepInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval == "" {
		c.Interval = "5m"
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = 100
	}
	if c.PreheatLookback <= 0 {
		c.PreheatLookback = c.CandleLimit
	}
	if c.PreheatRPS <= 0 {
		c.PreheatRPS = 5
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// Deps 汇总引擎依赖。Streamer/Decisions/Snapshots/Cache 可为 nil,对应
// 能力自动降级。
type Deps struct {
	Gateway   exchange.Gateway
	Streamer  exchange.Streamer
	Book      *portfolio.Manager
	Orders    *order.Manager
	Decider   *decision.Engine
	Sizer     *risk.Sizer
	Sentiment *sentiment.Aggregator
	Analysis  *analysis.Service
	Limiter   *ratelimit.Limiter

	Trades    store.TradeRepository
	Snapshots store.SnapshotRepository
	Cache     store.Cache
	Decisions *decisionlog.Store
}

type Engine struct {
	cfg  Config
	deps Deps

	clock func() time.Time
}

func New(cfg Config, deps Deps) *Engine {
	return &Engine{cfg: cfg.withDefaults(), deps: deps, clock: time.Now}
}

// Run 启动引擎并阻塞,直到 ctx 取消或任一子循环出错。
func (e *Engine) Run(ctx context.Context) error {
	symbols := e.trackedSymbols()
	logger.Infof("engine: starting interval=%s symbols=%d", e.cfg.Interval, len(symbols))

	e.deps.Sentiment.Start()
	defer e.deps.Sentiment.Close()
	for _, sym := range symbols {
		e.deps.Sentiment.Track(sym)
	}

	e.deps.Orders.Subscribe(e.onOrderEvent)

	e.preheat(ctx, symbols)

	g, gctx := errgroup.WithContext(ctx)

	interval, ok := scheduler.ParseIntervalDuration(e.cfg.Interval)
	if !ok {
		interval = 5 * time.Minute
		logger.Warnf("engine: unknown interval %q, falling back to %s", e.cfg.Interval, interval)
	}

	g.Go(func() error {
		sched := scheduler.NewAlignedScheduler(gctx, interval, schedulerOffset)
		sched.Name = "decision-cycle"
		sched.Start(func() { e.tick(gctx) })
		return gctx.Err()
	})

	if e.deps.Streamer != nil {
		g.Go(func() error { return e.streamCandles(gctx, symbols) })
		g.Go(func() error {
			err := e.deps.Streamer.SubscribeUserData(gctx, func(rep exchange.ExecutionReport) {
				e.deps.Orders.ApplyExecutionReport(gctx, rep)
			})
			if err != nil {
				logger.Warnf("engine: user data stream unavailable: %v", err)
			}
			<-gctx.Done()
			return gctx.Err()
		})
	}

	g.Go(func() error {
		e.sweepLoop(gctx)
		return gctx.Err()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) trackedSymbols() []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range e.deps.Book.List() {
		for _, slot := range p.Symbols {
			if !seen[slot.Symbol] {
				seen[slot.Symbol] = true
				out = append(out, slot.Symbol)
			}
		}
	}
	return out
}

// preheat warms the indicator window for every symbol before the first
// tick, throttled so a cold start does not burn the REST quota.
func (e *Engine) preheat(ctx context.Context, symbols []string) {
	limiter := rate.NewLimiter(rate.Limit(e.cfg.PreheatRPS), 1)
	e.deps.Analysis.Preheat(ctx, symbols, e.cfg.Interval, e.cfg.PreheatLookback, limiter.Wait)
}

func (e *Engine) streamCandles(ctx context.Context, symbols []string) error {
	events, err := e.deps.Streamer.SubscribeCandles(ctx, symbols, []string{e.cfg.Interval}, market.SubscribeOptions{})
	if err != nil {
		logger.Warnf("engine: candle stream unavailable, falling back to poll-only marks: %v", err)
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			if ev.Candle.Close > 0 {
				e.deps.Book.MarkPrice(ev.Symbol, ev.Candle.Close)
			}
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.deps.Limiter != nil {
				e.deps.Limiter.Sweep()
			}
			if e.deps.Cache != nil {
				if n, err := e.deps.Cache.Sweep(ctx); err != nil {
					logger.Warnf("engine: cache sweep failed: %v", err)
				} else if n > 0 {
					logger.Debugf("engine: cache sweep removed %d entries", n)
				}
			}
		}
	}
}

// cachedTicker 先查缓存再打交易所,同一轮多组合共用同一 symbol 的报价。
func (e *Engine) cachedTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	key := "ticker:" + symbol
	if e.deps.Cache != nil {
		if raw, ok, err := e.deps.Cache.Get(ctx, key); err == nil && ok {
			var t exchange.Ticker
			if json.Unmarshal([]byte(raw), &t) == nil {
				return t, nil
			}
		}
	}
	t, err := e.deps.Gateway.GetTicker(ctx, symbol)
	if err != nil {
		return exchange.Ticker{}, err
	}
	if e.deps.Cache != nil {
		if raw, err := json.Marshal(t); err == nil {
			_ = e.deps.Cache.Set(ctx, key, string(raw), tickerCacheTTL)
		}
	}
	return t, nil
}

func (e *Engine) saveSnapshot(ctx context.Context, symbol, kind string, payload any) {
	if e.deps.Snapshots == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	snap := &model.SnapshotModel{
		Symbol:        symbol,
		Kind:          kind,
		PayloadJSON:   raw,
		CreatedAtUnix: e.clock().Unix(),
	}
	if err := e.deps.Snapshots.SaveSnapshot(ctx, snap); err != nil {
		logger.Warnf("engine: save %s snapshot for %s failed: %v", kind, symbol, err)
	}
}

// onOrderEvent 把订单结果回写决策状态机,成交单落库为交易记录。
func (e *Engine) onOrderEvent(ev order.Event) {
	ctx := context.Background()
	switch ev.Type {
	case order.EventFilled:
		e.deps.Decider.OrderResolved(ev.Order.PortfolioID, ev.Order.Symbol, true)
		e.saveTrade(ctx, ev.Order)
	case order.EventFailed, order.EventCanceled, order.EventTimeout:
		e.deps.Decider.OrderResolved(ev.Order.PortfolioID, ev.Order.Symbol, false)
	}
}

func (e *Engine) saveTrade(ctx context.Context, o order.Order) {
	if e.deps.Trades == nil {
		return
	}
	raw, _ := json.Marshal(o)
	trade := &model.TradeModel{
		OrderID:       o.ID,
		PortfolioID:   o.PortfolioID,
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		Type:          string(o.Type),
		Status:        string(o.Status),
		Quantity:      o.ExecutedQuantity,
		AvgPrice:      o.AvgFillPrice,
		ExpectedPrice: o.ExpectedPrice,
		Commission:    o.Commission,
		RawData:       raw,
		TimestampUnix: e.clock().Unix(),
	}
	if err := e.deps.Trades.SaveTrade(ctx, trade); err != nil {
		logger.Errorf("engine: save trade %s failed: %v", o.ID, err)
	}
}
