package order

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"voltra/internal/gateway/exchange"
	"voltra/internal/logger"
	"voltra/internal/pkg/circuit"
	"voltra/internal/pkg/errs"
	"voltra/internal/pkg/ratelimit"
	"voltra/internal/pkg/retry"
	"voltra/internal/portfolio"
	"voltra/internal/slippage"
)

const (
	rateCategory      = "orders"
	historyPerSymbol  = 100
	defaultPoll       = 2 * time.Second
	defaultMonitorTTL = 5 * time.Minute
)

// LifecycleConfig tunes placement and monitoring.
type LifecycleConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MonitorTimeout time.Duration `mapstructure:"monitor_timeout"`
	Retry          retry.Policy  `mapstructure:"retry"`
}

func (c LifecycleConfig) withDefaults() LifecycleConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPoll
	}
	if c.MonitorTimeout <= 0 {
		c.MonitorTimeout = defaultMonitorTTL
	}
	return c
}

// Manager 是订单生命周期的单一写入方:校验、限流、熔断、重试下单,
// 然后轮询到终态并把成交回写组合与滑点统计。
type Manager struct {
	cfg       LifecycleConfig
	gw        exchange.Gateway
	validator *Validator
	rules     *RuleSet
	limiter   *ratelimit.Limiter
	breaker   *circuit.CircuitBreaker
	book      *portfolio.Manager
	tracker   *slippage.Tracker

	mu      sync.Mutex
	active  map[string]*Order            // by client order id
	history map[string][]*Order          // per symbol, bounded
	cancels map[string]context.CancelFunc

	notifyMu  sync.RWMutex
	listeners []func(Event)

	wg    sync.WaitGroup
	clock func() time.Time
	idFn  func() string
}

func NewManager(
	cfg LifecycleConfig,
	gw exchange.Gateway,
	validator *Validator,
	rules *RuleSet,
	limiter *ratelimit.Limiter,
	breaker *circuit.CircuitBreaker,
	book *portfolio.Manager,
	tracker *slippage.Tracker,
) *Manager {
	return &Manager{
		cfg:       cfg.withDefaults(),
		gw:        gw,
		validator: validator,
		rules:     rules,
		limiter:   limiter,
		breaker:   breaker,
		book:      book,
		tracker:   tracker,
		active:    make(map[string]*Order),
		history:   make(map[string][]*Order),
		cancels:   make(map[string]context.CancelFunc),
		clock:     time.Now,
		idFn:      uuid.NewString,
	}
}

// Subscribe registers an outbound event listener. Listeners run on the
// calling goroutine of the emitting operation; keep them fast.
func (m *Manager) Subscribe(fn func(Event)) {
	m.notifyMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.notifyMu.Unlock()
}

func (m *Manager) emit(typ EventType, o *Order, err error) {
	ev := Event{Type: typ, Order: *o, Time: m.clock()}
	if err != nil {
		ev.Error = err.Error()
	}
	m.notifyMu.RLock()
	listeners := append([]func(Event){}, m.listeners...)
	m.notifyMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// PlaceOrder runs the full placement pipeline. The gateway call happens
// outside every lock; results are applied under a short one. A failure
// event is emitted on every rejected or failed placement in addition to
// the returned error.
func (m *Manager) PlaceOrder(ctx context.Context, o *Order, rc RuleContext) (*Order, error) {
	if o.ID == "" {
		o.ID = m.idFn()
	}
	o.Status = exchange.StatusNew
	o.SubmittedAt = m.clock()
	o.UpdatedAt = o.SubmittedAt

	if err := m.preflight(o, rc); err != nil {
		m.emit(EventFailed, o, err)
		return nil, err
	}

	if res := m.limiter.Check(rateCategory, o.Symbol); !res.Allowed {
		err := errs.RateLimited("order.place", res.ResetAt)
		m.emit(EventFailed, o, err)
		return nil, err
	}
	if err := m.breaker.Allow(); err != nil {
		m.emit(EventFailed, o, err)
		return nil, err
	}

	var ack *exchange.OrderAck
	err := retry.Do(ctx, "order.place", m.cfg.Retry, func(ctx context.Context) error {
		// The breaker may have opened on a concurrent placement since the
		// last attempt; fast-fail instead of burning retries against it.
		if err := m.breaker.Allow(); err != nil {
			return err
		}
		o.Attempts++
		a, err := m.gw.PlaceOrder(ctx, o.request())
		if err != nil {
			m.breaker.RecordFailure()
			return err
		}
		m.breaker.RecordSuccess()
		ack = a
		return nil
	})
	if err != nil {
		o.Status = exchange.StatusRejected
		o.CompletedAt = m.clock()
		m.archive(o)
		m.emit(EventFailed, o, err)
		return nil, err
	}

	m.mu.Lock()
	o.ExchangeID = ack.OrderID
	o.Status = ack.Status
	o.ExecutedQuantity = ack.ExecutedQuantity
	if ack.AvgPrice > 0 {
		o.AvgFillPrice = ack.AvgPrice
	}
	o.UpdatedAt = m.clock()
	m.active[o.ID] = o
	m.mu.Unlock()

	logger.Infof("order %s placed: %s %s %s qty=%.6f (exchange id %s)",
		o.ID, o.Symbol, o.Side, o.Type, o.Quantity, o.ExchangeID)
	m.emit(EventPlaced, o, nil)

	if o.Status.Terminal() {
		m.complete(ctx, o)
	} else {
		m.startMonitor(ctx, o)
	}
	return o, nil
}

func (m *Manager) preflight(o *Order, rc RuleContext) error {
	m.mu.Lock()
	activeForSymbol := 0
	for _, a := range m.active {
		if a.Symbol == o.Symbol {
			activeForSymbol++
		}
	}
	m.mu.Unlock()

	warnings, err := m.validator.Validate(o, activeForSymbol)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		logger.Warnf("order %s: %s", o.ID, w)
	}
	if m.rules != nil {
		rc.Order = o
		if _, err := m.rules.Evaluate(rc); err != nil {
			return err
		}
	}
	return nil
}

// CancelOrder cancels an active order at the exchange and stops its
// monitor.
func (m *Manager) CancelOrder(ctx context.Context, id string) error {
	m.mu.Lock()
	o, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return errs.Validation("order.cancel", "no active order %s", id)
	}
	if err := m.gw.CancelOrder(ctx, o.Symbol, o.ExchangeID); err != nil {
		return err
	}
	m.mu.Lock()
	o.Status = exchange.StatusCanceled
	o.CompletedAt = m.clock()
	cancel := m.cancels[id]
	m.mu.Unlock()
	// Archive first so the waking monitor sees the order gone.
	m.archive(o)
	if cancel != nil {
		cancel()
	}
	m.emit(EventCanceled, o, nil)
	return nil
}

// startMonitor polls the order until terminal or the monitor timeout.
func (m *Manager) startMonitor(ctx context.Context, o *Order) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.MonitorTimeout)
	m.mu.Lock()
	m.cancels[o.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		ticker := time.NewTicker(m.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-mctx.Done():
				m.mu.Lock()
				_, stillActive := m.active[o.ID]
				snap := *o
				m.mu.Unlock()
				if stillActive {
					logger.Warnf("order %s monitor timed out in status %s", o.ID, snap.Status)
					m.archive(o)
					m.emit(EventTimeout, &snap, mctx.Err())
				}
				return
			case <-ticker.C:
				state, err := m.gw.GetOrder(mctx, o.Symbol, o.ExchangeID)
				if err != nil {
					logger.Warnf("order %s poll failed: %v", o.ID, err)
					continue
				}
				if done := m.applyState(mctx, o, state); done {
					return
				}
			}
		}
	}()
}

// applyState folds a polled or streamed state into the order; returns
// true once the order reached a terminal status.
func (m *Manager) applyState(ctx context.Context, o *Order, st *exchange.OrderState) bool {
	m.mu.Lock()
	o.Status = st.Status
	o.ExecutedQuantity = st.ExecutedQuantity
	if st.AvgPrice > 0 {
		o.AvgFillPrice = st.AvgPrice
	}
	if st.Commission > 0 {
		o.Commission = st.Commission
	}
	o.UpdatedAt = m.clock()
	m.mu.Unlock()

	if !st.Status.Terminal() {
		return false
	}
	o.CompletedAt = m.clock()
	m.complete(ctx, o)
	return true
}

// ApplyExecutionReport feeds streamed transitions into the same path the
// poller uses. Per-symbol ordering follows the stream's delivery order.
func (m *Manager) ApplyExecutionReport(ctx context.Context, rep exchange.ExecutionReport) {
	m.mu.Lock()
	var o *Order
	for _, a := range m.active {
		if a.ExchangeID == rep.OrderID || a.ID == rep.ClientOrderID {
			o = a
			break
		}
	}
	m.mu.Unlock()
	if o == nil {
		return
	}
	m.applyState(ctx, o, &exchange.OrderState{
		OrderID:          rep.OrderID,
		Symbol:           rep.Symbol,
		Status:           rep.Status,
		ExecutedQuantity: rep.ExecutedQuantity,
		AvgPrice:         rep.LastFillPrice,
		Commission:       rep.Commission,
	})
}

// complete archives a terminal order and, for fills, updates the
// portfolio, slippage analytics and emits the outcome event.
func (m *Manager) complete(ctx context.Context, o *Order) {
	m.archive(o)
	if o.Status != exchange.StatusFilled {
		if o.Status == exchange.StatusCanceled {
			m.emit(EventCanceled, o, nil)
		} else {
			m.emit(EventFailed, o, errs.New(errs.KindExchangeAPI, "order.monitor",
				"order %s ended %s", o.ID, o.Status))
		}
		return
	}

	fillPrice := o.AvgFillPrice
	if fillPrice <= 0 {
		fillPrice = o.ExpectedPrice
	}
	if m.tracker != nil && o.ExpectedPrice > 0 && fillPrice > 0 {
		if _, err := m.tracker.RecordFill(o.Symbol, o.Side, o.ExpectedPrice, fillPrice, o.ExecutedQuantity); err != nil {
			logger.Warnf("order %s slippage record failed: %v", o.ID, err)
		}
	}
	if m.book != nil && o.PortfolioID != "" {
		err := m.book.ApplyFill(ctx, o.PortfolioID, portfolio.Fill{
			Symbol:     o.Symbol,
			IsBuy:      o.Side == exchange.SideBuy,
			Quantity:   o.ExecutedQuantity,
			Price:      fillPrice,
			Commission: o.Commission,
			TradeID:    o.ID,
			Time:       o.CompletedAt,
		})
		if err != nil {
			logger.Errorf("order %s fill not applied to portfolio %s: %v", o.ID, o.PortfolioID, err)
		}
	}
	logger.Infof("order %s filled: %s %s qty=%.6f avg=%.4f", o.ID, o.Symbol, o.Side, o.ExecutedQuantity, fillPrice)
	m.emit(EventFilled, o, nil)
}

// archive moves the order from the active set into bounded history.
func (m *Manager) archive(o *Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, o.ID)
	delete(m.cancels, o.ID)
	h := append(m.history[o.Symbol], o)
	if len(h) > historyPerSymbol {
		h = h[len(h)-historyPerSymbol:]
	}
	m.history[o.Symbol] = h
}

// Active returns snapshots of in-flight orders.
func (m *Manager) Active() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.active))
	for _, o := range m.active {
		out = append(out, *o)
	}
	return out
}

// History returns the bounded per-symbol history, oldest first.
func (m *Manager) History(symbol string) []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[symbol]
	out := make([]Order, len(h))
	for i, o := range h {
		out[i] = *o
	}
	return out
}

// Close waits for every monitor goroutine to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
