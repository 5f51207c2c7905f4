package model

import (
	"gorm.io/datatypes"
)

// PortfolioModel stores the whole portfolio aggregate as JSON columns;
// the in-memory manager owns the structure, the database only needs to
// round-trip it.
type PortfolioModel struct {
	ID              string         `gorm:"column:id;primaryKey"`
	Name            string         `gorm:"column:name"`
	BudgetJSON      datatypes.JSON `gorm:"column:budget_json;type:TEXT"`
	ConstraintsJSON datatypes.JSON `gorm:"column:constraints_json;type:TEXT"`
	SymbolsJSON     datatypes.JSON `gorm:"column:symbols_json;type:TEXT"`
	PerformanceJSON datatypes.JSON `gorm:"column:performance_json;type:TEXT"`
	HistoryJSON     datatypes.JSON `gorm:"column:history_json;type:TEXT"`
	CreatedAtUnix   int64          `gorm:"column:created_at"`
	UpdatedAtUnix   int64          `gorm:"column:updated_at"`
}

func (PortfolioModel) TableName() string { return "portfolios" }

// TradeModel is one executed order, flattened for queries plus the raw
// order payload for audits.
type TradeModel struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID       string         `gorm:"column:order_id;uniqueIndex"`
	PortfolioID   string         `gorm:"column:portfolio_id;index"`
	Symbol        string         `gorm:"column:symbol;index"`
	Side          string         `gorm:"column:side"`
	Type          string         `gorm:"column:type"`
	Status        string         `gorm:"column:status"`
	Quantity      float64        `gorm:"column:quantity"`
	AvgPrice      float64        `gorm:"column:avg_price"`
	ExpectedPrice float64        `gorm:"column:expected_price"`
	Commission    float64        `gorm:"column:commission"`
	RawData       datatypes.JSON `gorm:"column:raw_data;type:TEXT"`
	TimestampUnix int64          `gorm:"column:timestamp"`
}

func (TradeModel) TableName() string { return "trades" }

// SnapshotModel stores a serialized analysis snapshot. Kind is
// "technical" or "sentiment".
type SnapshotModel struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Symbol        string         `gorm:"column:symbol;index:idx_snapshot,priority:1"`
	Kind          string         `gorm:"column:kind;index:idx_snapshot,priority:2"`
	PayloadJSON   datatypes.JSON `gorm:"column:payload_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (SnapshotModel) TableName() string { return "snapshots" }

// CacheModel backs the expiring key-value cache.
type CacheModel struct {
	Key           string `gorm:"column:key;primaryKey"`
	Value         string `gorm:"column:value;type:TEXT"`
	ExpiresAtUnix int64  `gorm:"column:expires_at;index"`
}

func (CacheModel) TableName() string { return "kv_cache" }
