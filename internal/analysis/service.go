// Package analysis owns the per-symbol technical snapshots: it refreshes
// them from gateway candles and keeps a bounded rolling history.
package analysis

import (
	"context"
	"strings"
	"sync"
	"time"

	"voltra/internal/analysis/indicator"
	"voltra/internal/gateway/exchange"
	"voltra/internal/logger"
)

const snapshotHistoryLimit = 100

type Service struct {
	gateway  exchange.Gateway
	settings func(symbol, interval string) indicator.Settings
	limit    int

	mu      sync.RWMutex
	latest  map[string]indicator.Snapshot
	history map[string][]indicator.Snapshot
	clock   func() time.Time
}

func NewService(gateway exchange.Gateway, settings func(symbol, interval string) indicator.Settings) *Service {
	if settings == nil {
		settings = func(symbol, interval string) indicator.Settings {
			return indicator.Settings{Symbol: symbol, Interval: interval}
		}
	}
	return &Service{
		gateway:  gateway,
		settings: settings,
		limit:    snapshotHistoryLimit,
		latest:   make(map[string]indicator.Snapshot),
		history:  make(map[string][]indicator.Snapshot),
		clock:    time.Now,
	}
}

// Refresh fetches candles through the gateway and recomputes the snapshot.
// The gateway call happens outside the lock; results land under it.
func (s *Service) Refresh(ctx context.Context, symbol, interval string, lookback int) (indicator.Snapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if lookback <= 0 {
		lookback = 200
	}
	candles, err := s.gateway.GetCandles(ctx, symbol, interval, lookback)
	if err != nil {
		return indicator.Snapshot{}, err
	}
	snap, err := indicator.Analyze(candles, s.settings(symbol, interval))
	if err != nil {
		return indicator.Snapshot{}, err
	}
	s.record(symbol, snap)
	return snap, nil
}

func (s *Service) record(symbol string, snap indicator.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[symbol] = snap
	hist := append(s.history[symbol], snap)
	if len(hist) > s.limit {
		hist = hist[len(hist)-s.limit:]
	}
	s.history[symbol] = hist
}

// Latest returns the most recent snapshot for the symbol, if any.
func (s *Service) Latest(symbol string) (indicator.Snapshot, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.latest[symbol]
	return snap, ok
}

// History returns a copy of the bounded snapshot history, oldest first.
func (s *Service) History(symbol string) []indicator.Snapshot {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.history[symbol]
	out := make([]indicator.Snapshot, len(hist))
	copy(out, hist)
	return out
}

// Preheat backfills snapshots for the given symbols so the first decision
// tick has data. Failures are logged, not fatal: a symbol without a
// snapshot simply holds until the next refresh.
func (s *Service) Preheat(ctx context.Context, symbols []string, interval string, lookback int, wait func(context.Context) error) {
	for _, sym := range symbols {
		if wait != nil {
			if err := wait(ctx); err != nil {
				logger.Warnf("analysis: preheat aborted: %v", err)
				return
			}
		}
		if _, err := s.Refresh(ctx, sym, interval, lookback); err != nil {
			logger.Warnf("analysis: preheat %s failed: %v", sym, err)
		}
	}
}
