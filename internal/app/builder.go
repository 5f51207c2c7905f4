package app

import (
	"context"
	"fmt"
	"time"

	"voltra/internal/analysis"
	vcfg "voltra/internal/config"
	"voltra/internal/decision"
	"voltra/internal/engine"
	"voltra/internal/gateway/binance"
	"voltra/internal/gateway/exchange"
	"voltra/internal/gateway/notifier"
	"voltra/internal/logger"
	"voltra/internal/order"
	"voltra/internal/pkg/circuit"
	"voltra/internal/pkg/ratelimit"
	"voltra/internal/pkg/retry"
	"voltra/internal/portfolio"
	"voltra/internal/risk"
	"voltra/internal/sentiment"
	"voltra/internal/slippage"
	"voltra/internal/store/decisionlog"
	"voltra/internal/store/gormstore"
	apihttp "voltra/internal/transport/http"

	"github.com/shopspring/decimal"
)

// Builder 按依赖顺序组装应用。gatewayFn 可注入假网关用于测试与 test_mode。
type Builder struct {
	cfg *vcfg.Config

	gatewayFn func(vcfg.ExchangeConfig) (exchange.Gateway, exchange.Streamer, error)
}

type BuilderOption func(*Builder)

// WithGateway 覆盖默认的币安网关构造。
func WithGateway(fn func(vcfg.ExchangeConfig) (exchange.Gateway, exchange.Streamer, error)) BuilderOption {
	return func(b *Builder) { b.gatewayFn = fn }
}

func NewBuilder(cfg *vcfg.Config, opts ...BuilderOption) *Builder {
	b := &Builder{cfg: cfg, gatewayFn: buildBinanceGateway}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildBinanceGateway(cfg vcfg.ExchangeConfig) (exchange.Gateway, exchange.Streamer, error) {
	gw, err := binance.New(cfg.ToBinance())
	if err != nil {
		return nil, nil, err
	}
	return gw, gw, nil
}

func (b *Builder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	gw, streamer, err := b.gatewayFn(cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("init exchange gateway: %w", err)
	}

	store, err := gormstore.New(cfg.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	decisions, err := decisionlog.New(cfg.Store.DecisionLogPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init decision log: %w", err)
	}

	book := portfolio.NewManager(store)
	if err := book.Restore(ctx); err != nil {
		logger.Warnf("app: restore portfolios failed, starting empty: %v", err)
	}
	if err := seedPortfolios(ctx, book, cfg.Portfolios); err != nil {
		store.Close()
		decisions.Close()
		return nil, err
	}

	matrix := risk.NewMatrix()
	var watchCancel context.CancelFunc
	if path := cfg.Risk.CorrelationMatrixPath; path != "" {
		if err := matrix.LoadFile(path); err != nil {
			logger.Warnf("app: correlation matrix %s not loaded: %v", path, err)
		} else if cfg.Risk.WatchMatrix {
			// Watch blocks until its context is done, so it gets its own
			// goroutine and a cancel that shutdown owns.
			var watchCtx context.Context
			watchCtx, watchCancel = context.WithCancel(context.Background())
			go func() {
				if err := matrix.Watch(watchCtx); err != nil {
					logger.Warnf("app: correlation matrix watch stopped: %v", err)
				}
			}()
		}
	}
	sizer := risk.NewSizer(cfg.Risk.Sizing, matrix)

	limiter := ratelimit.NewLimiter(toLimiterRules(cfg.RateLimits))
	breaker := circuit.NewCircuitBreaker("exchange",
		cfg.Orders.BreakerThreshold,
		time.Duration(cfg.Orders.BreakerWindowSeconds)*time.Second,
		time.Duration(cfg.Orders.BreakerTimeoutSeconds)*time.Second,
	)

	tracker := slippage.NewTracker(cfg.Slippage)
	senti := sentiment.NewAggregator(cfg.Sentiment.ToThresholds())
	analysisSvc := analysis.NewService(gw, cfg.Analysis.ToSettings)
	decider := decision.NewEngine(cfg.Decision)

	orders := order.NewManager(
		order.LifecycleConfig{
			PollInterval:   cfg.Orders.PollInterval(),
			MonitorTimeout: cfg.Orders.MonitorTimeout(),
			Retry: retry.Policy{
				MaxAttempts: cfg.Orders.RetryMaxAttempts,
				BaseDelay:   time.Duration(cfg.Orders.RetryBaseDelayMS) * time.Millisecond,
				MaxDelay:    time.Duration(cfg.Orders.RetryMaxDelayMS) * time.Millisecond,
				Multiplier:  cfg.Orders.RetryMultiplier,
			},
		},
		gw,
		order.NewValidator(cfg.Orders.Validator),
		order.DefaultRuleSet(cfg.Orders.Rules),
		limiter,
		breaker,
		book,
		tracker,
	)

	var dispatcher *notifier.Dispatcher
	if tg := cfg.Notify.Telegram; tg.Enabled {
		dispatcher = notifier.NewDispatcher(notifier.NewTelegram(tg.BotToken, tg.ChatID))
		orders.Subscribe(dispatcher.Handle)
	}

	eng := engine.New(
		engine.Config{
			Interval:        cfg.Market.Interval,
			CandleLimit:     cfg.Market.CandleLimit,
			PreheatLookback: cfg.Market.PreheatLookback,
			PreheatRPS:      cfg.Market.PreheatRPS,
			SweepInterval:   time.Duration(cfg.Store.SweepSeconds) * time.Second,
		},
		engine.Deps{
			Gateway:   gw,
			Streamer:  streamer,
			Book:      book,
			Orders:    orders,
			Decider:   decider,
			Sizer:     sizer,
			Sentiment: senti,
			Analysis:  analysisSvc,
			Limiter:   limiter,
			Trades:    store,
			Snapshots: store,
			Cache:     store,
			Decisions: decisions,
		},
	)

	httpSrv, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:       cfg.App.HTTPAddr,
		Portfolios: book,
		Orders:     orders,
		Slippage:   tracker,
		Sentiment:  senti,
		Analysis:   analysisSvc,
		Decisions:  decisions,
		Limiter:    limiter,
	})
	if err != nil {
		if watchCancel != nil {
			watchCancel()
		}
		store.Close()
		decisions.Close()
		return nil, fmt.Errorf("init http server: %w", err)
	}

	return &App{
		cfg:         cfg,
		engine:      eng,
		http:        httpSrv,
		orders:      orders,
		dispatcher:  dispatcher,
		store:       store,
		decisions:   decisions,
		watchCancel: watchCancel,
	}, nil
}

// seedPortfolios 为配置里声明但尚未落库的组合建档。已存在的组合以持久化
// 状态为准,配置不覆盖。
func seedPortfolios(ctx context.Context, book *portfolio.Manager, seeds []vcfg.PortfolioSeed) error {
	existing := map[string]bool{}
	for _, p := range book.List() {
		existing[p.Name] = true
	}
	for _, seed := range seeds {
		if existing[seed.Name] {
			logger.Debugf("app: portfolio %q already exists, skipping seed", seed.Name)
			continue
		}
		symbols := make([]portfolio.PortfolioSymbol, 0, len(seed.Symbols))
		for _, s := range seed.Symbols {
			symbols = append(symbols, portfolio.PortfolioSymbol{
				Symbol:        s.Symbol,
				AllocationPct: s.AllocationPct,
				Active:        true,
			})
		}
		maxPer := seed.MaxPerSym
		if maxPer <= 0 {
			maxPer = seed.BudgetTotal
		}
		req := portfolio.CreateRequest{
			Name: seed.Name,
			Budget: portfolio.Budget{
				Total:        decimal.NewFromFloat(seed.BudgetTotal),
				MaxPerSymbol: decimal.NewFromFloat(maxPer),
				Currency:     seed.Currency,
			},
			Constraints: portfolio.RiskConstraints{
				MaxSymbols:         seed.MaxSymbols,
				DefaultStopLossPct: seed.StopLossPct,
			},
			Symbols: symbols,
		}
		if _, err := book.Create(ctx, req); err != nil {
			return fmt.Errorf("seed portfolio %q: %w", seed.Name, err)
		}
		logger.Infof("app: seeded portfolio %q budget=%.2f symbols=%d", seed.Name, seed.BudgetTotal, len(symbols))
	}
	return nil
}

func toLimiterRules(rules map[string]vcfg.RateLimitRule) map[string]ratelimit.Rule {
	out := make(map[string]ratelimit.Rule, len(rules))
	for cat, r := range rules {
		out[cat] = ratelimit.Rule{
			Limit:  r.Limit,
			Window: time.Duration(r.WindowSeconds) * time.Second,
		}
	}
	return out
}
