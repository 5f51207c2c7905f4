package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voltra/internal/gateway/exchange"
	"voltra/internal/market"
	"voltra/internal/pkg/errs"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Name() string { return "mock" }

func (m *mockGateway) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	candles, _ := args.Get(0).([]market.Candle)
	return candles, args.Error(1)
}

func (m *mockGateway) GetTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	return exchange.Ticker{}, nil
}

func (m *mockGateway) GetOrderBook(ctx context.Context, symbol string, depth int) (exchange.OrderBook, error) {
	return exchange.OrderBook{}, nil
}

func (m *mockGateway) GetAccountInfo(ctx context.Context) (exchange.AccountInfo, error) {
	return exchange.AccountInfo{}, nil
}

func (m *mockGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	return nil, nil
}

func (m *mockGateway) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }

func (m *mockGateway) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.OrderState, error) {
	return nil, nil
}

func (m *mockGateway) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OrderState, error) {
	return nil, nil
}

func trendCandles(n int) []market.Candle {
	candles := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		price := 100 + float64(i)
		candles[i] = market.Candle{
			OpenTime: int64(i) * 300_000,
			Open:     price,
			High:     price * 1.01,
			Low:      price * 0.99,
			Close:    price,
			Volume:   100,
		}
	}
	return candles
}

func TestRefresh(t *testing.T) {
	gw := &mockGateway{}
	gw.On("GetCandles", mock.Anything, "BTCUSDT", "5m", 200).Return(trendCandles(120), nil)

	svc := NewService(gw, nil)
	snap, err := svc.Refresh(context.Background(), " btcusdt ", "5m", 0)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, 120, snap.Count)

	got, ok := svc.Latest("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, snap.Price, got.Price)
	assert.Len(t, svc.History("BTCUSDT"), 1)

	gw.AssertExpectations(t)
}

func TestRefreshGatewayError(t *testing.T) {
	gw := &mockGateway{}
	gw.On("GetCandles", mock.Anything, "BTCUSDT", "5m", 100).
		Return(nil, errs.Wrap(errs.KindNetwork, "gateway.candles", errors.New("down")))

	svc := NewService(gw, nil)
	_, err := svc.Refresh(context.Background(), "BTCUSDT", "5m", 100)
	require.Error(t, err)
	assert.Equal(t, errs.KindNetwork, errs.KindOf(err))

	_, ok := svc.Latest("BTCUSDT")
	assert.False(t, ok)
}

func TestRefreshInsufficientCandles(t *testing.T) {
	gw := &mockGateway{}
	gw.On("GetCandles", mock.Anything, "BTCUSDT", "5m", 10).Return(trendCandles(10), nil)

	svc := NewService(gw, nil)
	_, err := svc.Refresh(context.Background(), "BTCUSDT", "5m", 10)
	require.Error(t, err)
	assert.Equal(t, errs.KindInsufficientData, errs.KindOf(err))
}

func TestHistoryBounded(t *testing.T) {
	gw := &mockGateway{}
	gw.On("GetCandles", mock.Anything, "BTCUSDT", "5m", 200).Return(trendCandles(120), nil)

	svc := NewService(gw, nil)
	svc.limit = 3
	for i := 0; i < 5; i++ {
		_, err := svc.Refresh(context.Background(), "BTCUSDT", "5m", 0)
		require.NoError(t, err)
	}
	assert.Len(t, svc.History("BTCUSDT"), 3)
}

func TestPreheat(t *testing.T) {
	t.Run("continues past per-symbol failures", func(t *testing.T) {
		gw := &mockGateway{}
		gw.On("GetCandles", mock.Anything, "BTCUSDT", "5m", 200).Return(trendCandles(120), nil)
		gw.On("GetCandles", mock.Anything, "ETHUSDT", "5m", 200).
			Return(nil, errs.Wrap(errs.KindNetwork, "gateway.candles", errors.New("down")))
		gw.On("GetCandles", mock.Anything, "SOLUSDT", "5m", 200).Return(trendCandles(120), nil)

		svc := NewService(gw, nil)
		svc.Preheat(context.Background(), []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, "5m", 200, nil)

		_, ok := svc.Latest("BTCUSDT")
		assert.True(t, ok)
		_, ok = svc.Latest("ETHUSDT")
		assert.False(t, ok)
		_, ok = svc.Latest("SOLUSDT")
		assert.True(t, ok)
	})

	t.Run("aborts when the wait hook fails", func(t *testing.T) {
		gw := &mockGateway{}
		svc := NewService(gw, nil)
		svc.Preheat(context.Background(), []string{"BTCUSDT"}, "5m", 200, func(ctx context.Context) error {
			return context.Canceled
		})
		_, ok := svc.Latest("BTCUSDT")
		assert.False(t, ok)
		gw.AssertNotCalled(t, "GetCandles", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
