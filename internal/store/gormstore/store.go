// Package gormstore backs the store interfaces with Gorm + SQLite.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"voltra/internal/portfolio"
	"voltra/internal/store/model"
)

// GormStore implements portfolio, trade, snapshot and cache persistence
// on one SQLite file.
type GormStore struct {
	db    *gorm.DB
	clock func() time.Time
}

func New(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// Use the pure-Go modernc.org/sqlite driver (registered as "sqlite");
	// the dialector's default driver requires cgo and ignores the _pragma DSN
	// parameters this DSN relies on.
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.PortfolioModel{},
		&model.TradeModel{},
		&model.SnapshotModel{},
		&model.CacheModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db, clock: time.Now}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SavePortfolio upserts the aggregate as JSON columns.
func (s *GormStore) SavePortfolio(ctx context.Context, p *portfolio.Portfolio) error {
	if p == nil {
		return errors.New("portfolio cannot be nil")
	}
	rec := model.PortfolioModel{
		ID:            p.ID,
		Name:          p.Name,
		CreatedAtUnix: p.CreatedAt.Unix(),
		UpdatedAtUnix: p.UpdatedAt.Unix(),
	}
	for _, col := range []struct {
		dst *datatypes.JSON
		src any
	}{
		{&rec.BudgetJSON, p.Budget},
		{&rec.ConstraintsJSON, p.Constraints},
		{&rec.SymbolsJSON, p.Symbols},
		{&rec.PerformanceJSON, p.Performance},
		{&rec.HistoryJSON, p.History},
	} {
		raw, err := json.Marshal(col.src)
		if err != nil {
			return fmt.Errorf("marshal portfolio %s: %w", p.ID, err)
		}
		*col.dst = raw
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

// LoadPortfolios rebuilds every stored aggregate.
func (s *GormStore) LoadPortfolios(ctx context.Context) ([]*portfolio.Portfolio, error) {
	var recs []model.PortfolioModel
	if err := s.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*portfolio.Portfolio, 0, len(recs))
	for _, rec := range recs {
		p := &portfolio.Portfolio{
			ID:        rec.ID,
			Name:      rec.Name,
			CreatedAt: time.Unix(rec.CreatedAtUnix, 0),
			UpdatedAt: time.Unix(rec.UpdatedAtUnix, 0),
		}
		for _, col := range []struct {
			src datatypes.JSON
			dst any
		}{
			{rec.BudgetJSON, &p.Budget},
			{rec.ConstraintsJSON, &p.Constraints},
			{rec.SymbolsJSON, &p.Symbols},
			{rec.PerformanceJSON, &p.Performance},
			{rec.HistoryJSON, &p.History},
		} {
			if len(col.src) == 0 {
				continue
			}
			if err := json.Unmarshal(col.src, col.dst); err != nil {
				return nil, fmt.Errorf("unmarshal portfolio %s: %w", rec.ID, err)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *GormStore) DeletePortfolio(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&model.PortfolioModel{}, "id = ?", id).Error
}

// SaveTrade upserts by order id so replayed events stay idempotent.
func (s *GormStore) SaveTrade(ctx context.Context, trade *model.TradeModel) error {
	if trade == nil {
		return errors.New("trade cannot be nil")
	}
	if trade.TimestampUnix == 0 {
		trade.TimestampUnix = s.clock().Unix()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		UpdateAll: true,
	}).Create(trade).Error
}

func (s *GormStore) ListTrades(ctx context.Context, symbol string, limit int) ([]model.TradeModel, error) {
	var trades []model.TradeModel
	q := s.db.WithContext(ctx).Order("timestamp DESC")
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

func (s *GormStore) ListPortfolioTrades(ctx context.Context, portfolioID string, limit int) ([]model.TradeModel, error) {
	var trades []model.TradeModel
	q := s.db.WithContext(ctx).Where("portfolio_id = ?", portfolioID).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

func (s *GormStore) SaveSnapshot(ctx context.Context, snap *model.SnapshotModel) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}
	if snap.CreatedAtUnix == 0 {
		snap.CreatedAtUnix = s.clock().Unix()
	}
	return s.db.WithContext(ctx).Create(snap).Error
}

func (s *GormStore) ListSnapshots(ctx context.Context, symbol, kind string, limit int) ([]model.SnapshotModel, error) {
	var snaps []model.SnapshotModel
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&snaps).Error; err != nil {
		return nil, err
	}
	return snaps, nil
}

// Get returns the value when present and unexpired.
func (s *GormStore) Get(ctx context.Context, key string) (string, bool, error) {
	var rec model.CacheModel
	err := s.db.WithContext(ctx).First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if rec.ExpiresAtUnix > 0 && rec.ExpiresAtUnix <= s.clock().Unix() {
		return "", false, nil
	}
	return rec.Value, true, nil
}

func (s *GormStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	rec := model.CacheModel{Key: key, Value: value}
	if ttl > 0 {
		rec.ExpiresAtUnix = s.clock().Add(ttl).Unix()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&model.CacheModel{}, "key = ?", key).Error
}

func (s *GormStore) Sweep(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at > 0 AND expires_at <= ?", s.clock().Unix()).
		Delete(&model.CacheModel{})
	return int(res.RowsAffected), res.Error
}
