package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voltra/internal/decision"
	"voltra/internal/gateway/exchange"
	"voltra/internal/market"
	"voltra/internal/order"
	"voltra/internal/portfolio"
	"voltra/internal/risk"
	"voltra/internal/store/memcache"
	"voltra/internal/store/model"
)

type mockGateway struct{ mock.Mock }

func (m *mockGateway) Name() string { return "mock" }

func (m *mockGateway) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	return args.Get(0).([]market.Candle), args.Error(1)
}

func (m *mockGateway) GetTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(exchange.Ticker), args.Error(1)
}

func (m *mockGateway) GetOrderBook(ctx context.Context, symbol string, depth int) (exchange.OrderBook, error) {
	args := m.Called(ctx, symbol, depth)
	return args.Get(0).(exchange.OrderBook), args.Error(1)
}

func (m *mockGateway) GetAccountInfo(ctx context.Context) (exchange.AccountInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).(exchange.AccountInfo), args.Error(1)
}

func (m *mockGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	args := m.Called(ctx, req)
	if ack := args.Get(0); ack != nil {
		return ack.(*exchange.OrderAck), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return m.Called(ctx, symbol, orderID).Error(0)
}

func (m *mockGateway) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.OrderState, error) {
	args := m.Called(ctx, symbol, orderID)
	if st := args.Get(0); st != nil {
		return st.(*exchange.OrderState), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OrderState, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).([]exchange.OrderState), args.Error(1)
}

type memRepo struct {
	mu    sync.Mutex
	saved map[string]*portfolio.Portfolio
}

func newMemRepo() *memRepo { return &memRepo{saved: map[string]*portfolio.Portfolio{}} }

func (r *memRepo) SavePortfolio(ctx context.Context, p *portfolio.Portfolio) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[p.ID] = p
	return nil
}

func (r *memRepo) LoadPortfolios(ctx context.Context) ([]*portfolio.Portfolio, error) {
	return nil, nil
}

func (r *memRepo) DeletePortfolio(ctx context.Context, id string) error { return nil }

type tradeSink struct {
	mu     sync.Mutex
	trades []*model.TradeModel
}

func (s *tradeSink) SaveTrade(ctx context.Context, trade *model.TradeModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
	return nil
}

func (s *tradeSink) ListTrades(ctx context.Context, symbol string, limit int) ([]model.TradeModel, error) {
	return nil, nil
}

func (s *tradeSink) ListPortfolioTrades(ctx context.Context, portfolioID string, limit int) ([]model.TradeModel, error) {
	return nil, nil
}

func seedPortfolio(t *testing.T, book *portfolio.Manager) *portfolio.Portfolio {
	t.Helper()
	p, err := book.Create(context.Background(), portfolio.CreateRequest{
		Name: "core",
		Budget: portfolio.Budget{
			Total:        decimal.NewFromInt(10000),
			MaxPerSymbol: decimal.NewFromInt(5000),
			Currency:     "USDT",
		},
		Symbols: []portfolio.PortfolioSymbol{
			{Symbol: "BTCUSDT", AllocationPct: 40, Active: true},
			{Symbol: "ETHUSDT", AllocationPct: 30, Active: true},
		},
	})
	require.NoError(t, err)
	return p
}

func testEngine(t *testing.T, gw *mockGateway) (*Engine, *portfolio.Manager, *tradeSink) {
	t.Helper()
	book := portfolio.NewManager(newMemRepo())
	trades := &tradeSink{}
	e := New(Config{Interval: "5m"}, Deps{
		Gateway: gw,
		Book:    book,
		Decider: decision.NewEngine(decision.Config{}),
		Sizer:   risk.NewSizer(risk.Config{}, risk.NewMatrix()),
		Trades:  trades,
		Cache:   memcache.New(),
	})
	return e, book, trades
}

func TestTrackedSymbols(t *testing.T) {
	e, book, _ := testEngine(t, &mockGateway{})
	seedPortfolio(t, book)
	_, err := book.Create(context.Background(), portfolio.CreateRequest{
		Name: "alt",
		Budget: portfolio.Budget{
			Total:        decimal.NewFromInt(5000),
			MaxPerSymbol: decimal.NewFromInt(5000),
			Currency:     "USDT",
		},
		Symbols: []portfolio.PortfolioSymbol{{Symbol: "BTCUSDT", AllocationPct: 50}},
	})
	require.NoError(t, err)

	syms := e.trackedSymbols()
	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT"}, syms)
}

func TestBuildOrder(t *testing.T) {
	gw := &mockGateway{}
	e, book, _ := testEngine(t, gw)
	p := seedPortfolio(t, book)
	slot := p.Symbols[0]

	gw.On("GetTicker", mock.Anything, "BTCUSDT").Return(exchange.Ticker{
		Symbol: "BTCUSDT", Last: 50000, Bid: 49990, Ask: 50010,
	}, nil)
	gw.On("GetOrderBook", mock.Anything, "BTCUSDT", bookDepth).Return(exchange.OrderBook{
		Symbol: "BTCUSDT",
		Bids:   []exchange.BookLevel{{Price: 49990, Quantity: 10}},
		Asks:   []exchange.BookLevel{{Price: 50010, Quantity: 10}},
	}, nil)

	t.Run("buy entry sized from allocation", func(t *testing.T) {
		d := decision.Decision{Action: decision.ActionBuy, Confidence: 0.7, Reasoning: "bullish"}
		o, rc, err := e.buildOrder(context.Background(), p, slot, d, 0)
		require.NoError(t, err)
		require.NotNil(t, o)
		assert.Equal(t, exchange.SideBuy, o.Side)
		assert.Equal(t, exchange.TypeMarket, o.Type)
		// 40% of 10000 = 4000 budget, fixed sizing commits 5%: 200 / 50000
		assert.InDelta(t, 0.004, o.Quantity, 1e-9)
		assert.Equal(t, 50000.0, o.ExpectedPrice)
		require.NotNil(t, rc.Ticker)
		require.NotNil(t, rc.Book)
		assert.True(t, rc.MarketOpen)
	})

	t.Run("sell without position skipped", func(t *testing.T) {
		d := decision.Decision{Action: decision.ActionSell, Confidence: 0.9}
		o, _, err := e.buildOrder(context.Background(), p, slot, d, 0)
		require.NoError(t, err)
		assert.Nil(t, o)
	})

	t.Run("long exit uses position quantity", func(t *testing.T) {
		withPos := slot
		withPos.Position = &portfolio.Position{
			Symbol:     "BTCUSDT",
			Side:       portfolio.SideLong,
			Quantity:   0.5,
			EntryPrice: 48000,
			Status:     portfolio.PositionOpen,
		}
		d := decision.Decision{Action: decision.ActionSell, Confidence: 0.9, Reasoning: "exit"}
		o, _, err := e.buildOrder(context.Background(), p, withPos, d, 0)
		require.NoError(t, err)
		require.NotNil(t, o)
		assert.Equal(t, exchange.SideSell, o.Side)
		assert.Equal(t, 0.5, o.Quantity)
	})
}

func TestCachedTicker(t *testing.T) {
	gw := &mockGateway{}
	e, _, _ := testEngine(t, gw)

	gw.On("GetTicker", mock.Anything, "BTCUSDT").Return(exchange.Ticker{
		Symbol: "BTCUSDT", Last: 50000,
	}, nil).Once()

	first, err := e.cachedTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	second, err := e.cachedTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, first.Last, second.Last)
	gw.AssertExpectations(t)
}

func TestOnOrderEventPersistsFill(t *testing.T) {
	e, _, trades := testEngine(t, &mockGateway{})

	e.onOrderEvent(order.Event{
		Type: order.EventFilled,
		Order: order.Order{
			ID:               "ord-1",
			PortfolioID:      "pf-1",
			Symbol:           "BTCUSDT",
			Side:             exchange.SideBuy,
			Type:             exchange.TypeMarket,
			Status:           exchange.StatusFilled,
			ExecutedQuantity: 0.01,
			AvgFillPrice:     50100,
			ExpectedPrice:    50000,
		},
		Time: time.Now(),
	})

	trades.mu.Lock()
	defer trades.mu.Unlock()
	require.Len(t, trades.trades, 1)
	assert.Equal(t, "ord-1", trades.trades[0].OrderID)
	assert.Equal(t, 50100.0, trades.trades[0].AvgPrice)
}
