// Package store defines the persistence surfaces the trading core
// consumes. The core never assumes a specific storage technology; the
// gormstore and memcache subpackages provide the concrete backends.
package store

import (
	"context"
	"time"

	"voltra/internal/store/model"
)

// TradeRepository keeps the executed-trade history.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *model.TradeModel) error
	ListTrades(ctx context.Context, symbol string, limit int) ([]model.TradeModel, error)
	ListPortfolioTrades(ctx context.Context, portfolioID string, limit int) ([]model.TradeModel, error)
}

// SnapshotRepository persists analysis snapshots (technical and
// sentiment) for later inspection.
type SnapshotRepository interface {
	SaveSnapshot(ctx context.Context, snap *model.SnapshotModel) error
	ListSnapshots(ctx context.Context, symbol, kind string, limit int) ([]model.SnapshotModel, error)
}

// Cache is a generic expiring key-value store.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Sweep removes expired entries and returns how many were dropped.
	Sweep(ctx context.Context) (int, error)
}
