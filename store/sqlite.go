package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/babylon-markets/a2a/types"
)

// SQLiteStore persists analyses across restarts. Same retention policy as
// the memory store, enforced on write.
type SQLiteStore struct {
	db           *sql.DB
	maxPerMarket int
	ttl          time.Duration
}

const analysisSchema = `
CREATE TABLE IF NOT EXISTS analyses (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	market_id   TEXT NOT NULL,
	analyst     TEXT NOT NULL,
	prediction  REAL NOT NULL,
	confidence  REAL NOT NULL,
	reasoning   TEXT NOT NULL,
	data_points TEXT,
	signature   TEXT,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_market ON analyses(market_id, created_at DESC);
`

// NewSQLiteStore opens (creating if needed) the analysis database at path.
func NewSQLiteStore(path string, maxPerMarket int, ttl time.Duration) (*SQLiteStore, error) {
	if maxPerMarket <= 0 {
		maxPerMarket = 100
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open analysis db: %w", err)
	}
	if _, err := db.Exec(analysisSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate analysis db: %w", err)
	}
	return &SQLiteStore{db: db, maxPerMarket: maxPerMarket, ttl: ttl}, nil
}

// Append implements AnalysisStore.
func (s *SQLiteStore) Append(ctx context.Context, analysis *types.MarketAnalysis) error {
	dataPoints, err := json.Marshal(analysis.DataPoints)
	if err != nil {
		return fmt.Errorf("marshal data points: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (market_id, analyst, prediction, confidence, reasoning, data_points, signature, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		analysis.MarketID, analysis.Analyst, analysis.Prediction, analysis.Confidence,
		analysis.Reasoning, string(dataPoints), analysis.Signature, analysis.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}

	if s.ttl > 0 {
		cutoff := time.Now().Add(-s.ttl).UnixMilli()
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM analyses WHERE market_id = ? AND created_at < ?`,
			analysis.MarketID, cutoff); err != nil {
			return fmt.Errorf("expire analyses: %w", err)
		}
	}

	// Keep only the newest maxPerMarket rows for the market.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM analyses WHERE market_id = ? AND id NOT IN (
			SELECT id FROM analyses WHERE market_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		)`,
		analysis.MarketID, analysis.MarketID, s.maxPerMarket); err != nil {
		return fmt.Errorf("trim analyses: %w", err)
	}
	return nil
}

// ByMarket implements AnalysisStore.
func (s *SQLiteStore) ByMarket(ctx context.Context, marketID string, limit int) ([]types.MarketAnalysis, error) {
	if limit <= 0 || limit > s.maxPerMarket {
		limit = s.maxPerMarket
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT market_id, analyst, prediction, confidence, reasoning, data_points, signature, created_at
		 FROM analyses WHERE market_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		marketID, limit)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	var out []types.MarketAnalysis
	for rows.Next() {
		var a types.MarketAnalysis
		var dataPoints sql.NullString
		var signature sql.NullString
		var createdAt int64
		if err := rows.Scan(&a.MarketID, &a.Analyst, &a.Prediction, &a.Confidence,
			&a.Reasoning, &dataPoints, &signature, &createdAt); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		if dataPoints.Valid && dataPoints.String != "" && dataPoints.String != "null" {
			if err := json.Unmarshal([]byte(dataPoints.String), &a.DataPoints); err != nil {
				return nil, fmt.Errorf("decode data points: %w", err)
			}
		}
		a.Signature = signature.String
		a.Timestamp = time.UnixMilli(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close implements AnalysisStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
