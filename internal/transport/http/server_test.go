package apihttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"voltra/internal/decision"
	"voltra/internal/pkg/ratelimit"
	"voltra/internal/portfolio"
	"voltra/internal/sentiment"
	"voltra/internal/slippage"
	"voltra/internal/store/decisionlog"
	"voltra/internal/store/gormstore"
)

func newTestServer(t *testing.T) (*Server, *sentiment.Aggregator, *portfolio.Manager) {
	t.Helper()
	store, err := gormstore.New(filepath.Join(t.TempDir(), "voltra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	agg := sentiment.NewAggregator(sentiment.Thresholds{})
	agg.Track("BTCUSDT")

	book := portfolio.NewManager(store)
	_, err = book.Create(context.Background(), portfolio.CreateRequest{
		Name: "core",
		Budget: portfolio.Budget{
			Total:        decimal.NewFromInt(10000),
			MaxPerSymbol: decimal.NewFromInt(5000),
			Currency:     "USDT",
		},
		Symbols: []portfolio.PortfolioSymbol{{Symbol: "BTCUSDT", AllocationPct: 50}},
	})
	require.NoError(t, err)

	logs, err := decisionlog.New(filepath.Join(t.TempDir(), "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = logs.Close() })
	require.NoError(t, logs.Append(context.Background(), decision.Decision{
		PortfolioID: "pf-1",
		Symbol:      "BTCUSDT",
		Action:      decision.ActionBuy,
		State:       decision.StateEntering,
		Confidence:  0.8,
		Reasoning:   "entry signal",
		Time:        time.Now(),
	}))

	srv, err := NewServer(ServerConfig{
		Portfolios: book,
		Slippage:   slippage.NewTracker(slippage.Config{}),
		Sentiment:  agg,
		Decisions:  logs,
	})
	require.NoError(t, err)
	return srv, agg, book
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestSentimentIngest(t *testing.T) {
	srv, agg, _ := newTestServer(t)

	t.Run("single observation", func(t *testing.T) {
		w := do(t, srv, http.MethodPost, "/api/v1/sentiment",
			`{"source":"twitter","symbol":"btcusdt","sentiment":0.6,"confidence":0.8}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "accepted").Int())
	})

	t.Run("batch", func(t *testing.T) {
		w := do(t, srv, http.MethodPost, "/api/v1/sentiment",
			`{"observations":[
				{"source":"news","symbol":"BTCUSDT","sentiment":0.3,"confidence":0.9},
				{"source":"reddit","symbol":"BTCUSDT","sentiment":-0.2,"confidence":0.5}
			]}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(2), gjson.Get(w.Body.String(), "accepted").Int())
	})

	t.Run("untracked symbol rejected", func(t *testing.T) {
		w := do(t, srv, http.MethodPost, "/api/v1/sentiment",
			`{"source":"twitter","symbol":"DOGEUSDT","sentiment":0.4,"confidence":0.7}`)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, gjson.Get(w.Body.String(), "error").String(), "not tracked")
		assert.Equal(t, int64(0), gjson.Get(w.Body.String(), "accepted").Int())
	})

	t.Run("schema violation rejected", func(t *testing.T) {
		w := do(t, srv, http.MethodPost, "/api/v1/sentiment",
			`{"source":"twitter","symbol":"BTCUSDT","sentiment":1.5,"confidence":0.8}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing field rejected", func(t *testing.T) {
		w := do(t, srv, http.MethodPost, "/api/v1/sentiment",
			`{"symbol":"BTCUSDT","sentiment":0.5}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid json rejected", func(t *testing.T) {
		w := do(t, srv, http.MethodPost, "/api/v1/sentiment", `{"source":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("snapshot endpoint", func(t *testing.T) {
		agg.Aggregate("BTCUSDT")
		w := do(t, srv, http.MethodGet, "/api/v1/sentiment/BTCUSDT", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Equal(t, "BTCUSDT", gjson.Get(body, "snapshot.symbol").String())
		assert.Positive(t, gjson.Get(body, "snapshot.observations").Int())
	})
}

func TestSentimentIngestRateLimited(t *testing.T) {
	agg := sentiment.NewAggregator(sentiment.Thresholds{})
	agg.Track("BTCUSDT")
	limiter := ratelimit.NewLimiter(map[string]ratelimit.Rule{
		"sentiment": {Limit: 1, Window: time.Minute},
	})
	srv, err := NewServer(ServerConfig{Sentiment: agg, Limiter: limiter})
	require.NoError(t, err)

	payload := `{"source":"twitter","symbol":"BTCUSDT","sentiment":0.1,"confidence":0.5}`
	w := do(t, srv, http.MethodPost, "/api/v1/sentiment", payload)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/sentiment", payload)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestReadEndpoints(t *testing.T) {
	srv, _, book := newTestServer(t)

	t.Run("healthz", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("portfolio list and detail", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/api/v1/portfolios", "")
		require.Equal(t, http.StatusOK, w.Code)
		id := gjson.Get(w.Body.String(), "portfolios.0.id").String()
		require.NotEmpty(t, id)

		w = do(t, srv, http.MethodGet, "/api/v1/portfolios/"+id, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "core", gjson.Get(w.Body.String(), "portfolio.name").String())

		w = do(t, srv, http.MethodGet, "/api/v1/portfolios/nope", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("slippage", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/api/v1/slippage", "")
		assert.Equal(t, http.StatusOK, w.Code)
		w = do(t, srv, http.MethodGet, "/api/v1/slippage/BTCUSDT", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("decisions", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/api/v1/decisions?symbol=BTCUSDT", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "BUY", gjson.Get(w.Body.String(), "decisions.0.action").String())
	})

	_ = book
}
