// Package decisionlog persists the decision audit trail on a plain
// database/sql SQLite handle, kept separate from the gorm store so audit
// writes never contend with trading-path persistence.
package decisionlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"voltra/internal/decision"
)

const schema = `
CREATE TABLE IF NOT EXISTS decision_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	portfolio_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	state TEXT NOT NULL,
	confidence REAL NOT NULL,
	technical_score REAL NOT NULL,
	sentiment REAL NOT NULL,
	reasoning TEXT,
	auto_execute INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decision_log_symbol ON decision_log(symbol, created_at);
`

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision log: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("decision log migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes one decision. Failures are the caller's to log; the
// trading path never blocks on the audit trail.
func (s *Store) Append(ctx context.Context, d decision.Decision) error {
	auto := 0
	if d.AutoExecute {
		auto = 1
	}
	when := d.Time
	if when.IsZero() {
		when = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO decision_log
(portfolio_id, symbol, action, state, confidence, technical_score, sentiment, reasoning, auto_execute, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.PortfolioID, d.Symbol, string(d.Action), string(d.State),
		d.Confidence, d.TechnicalScore, d.Sentiment, d.Reasoning, auto, when.Unix())
	return err
}

// Recent returns the newest decisions for a symbol, newest first.
func (s *Store) Recent(ctx context.Context, symbol string, limit int) ([]decision.Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT portfolio_id, symbol, action, state, confidence, technical_score, sentiment, reasoning, auto_execute, created_at
FROM decision_log`
	args := []any{}
	if symbol != "" {
		query += " WHERE symbol = ?"
		args = append(args, symbol)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []decision.Decision
	for rows.Next() {
		var d decision.Decision
		var action, state string
		var auto int
		var createdAt int64
		if err := rows.Scan(&d.PortfolioID, &d.Symbol, &action, &state,
			&d.Confidence, &d.TechnicalScore, &d.Sentiment, &d.Reasoning, &auto, &createdAt); err != nil {
			return nil, err
		}
		d.Action = decision.Action(action)
		d.State = decision.State(state)
		d.AutoExecute = auto == 1
		d.Time = time.Unix(createdAt, 0)
		out = append(out, d)
	}
	return out, rows.Err()
}
