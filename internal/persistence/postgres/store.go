// Package postgres implements durable cycle history on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/microrun/internal/persistence"
	"github.com/sawpanic/microrun/internal/signal"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id          BIGSERIAL PRIMARY KEY,
	cycle_id    TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	symbol      TEXT NOT NULL,
	direction   TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	entry       DOUBLE PRECISION NOT NULL,
	take_profit DOUBLE PRECISION NOT NULL,
	stop_loss   DOUBLE PRECISION NOT NULL,
	atr         DOUBLE PRECISION NOT NULL,
	qty         INTEGER NOT NULL DEFAULT 0,
	strategies  TEXT[] NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_decisions_cycle ON decisions (cycle_id);
CREATE INDEX IF NOT EXISTS idx_decisions_symbol_ts ON decisions (symbol, ts DESC);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	id            BIGSERIAL PRIMARY KEY,
	cycle_id      TEXT NOT NULL,
	ts            TIMESTAMPTZ NOT NULL,
	trading_day   TEXT NOT NULL,
	equity        DOUBLE PRECISION NOT NULL,
	cash          DOUBLE PRECISION NOT NULL,
	realized_pl   DOUBLE PRECISION NOT NULL,
	unrealized_pl DOUBLE PRECISION NOT NULL,
	positions     JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_snapshots_day ON portfolio_snapshots (trading_day, ts DESC);
`

// Store writes cycle history to PostgreSQL.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStore wraps an existing connection. Open is the usual entry point;
// this exists for callers that manage the pool themselves.
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout}
}

// Open connects, verifies the connection, and ensures the schema.
func Open(dsn string, timeout time.Duration) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db, timeout: timeout}, nil
}

// SaveDecisions inserts all decisions of one cycle in a single
// transaction.
func (s *Store) SaveDecisions(ctx context.Context, decisions []signal.Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin decisions tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO decisions (cycle_id, ts, symbol, direction, confidence, entry, take_profit, stop_loss, atr, qty, strategies)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
	if err != nil {
		return fmt.Errorf("prepare decisions insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range decisions {
		_, err = stmt.ExecContext(ctx,
			d.CycleID, d.Timestamp, d.Symbol, string(d.Direction),
			d.Confidence, d.Entry, d.TakeProfit, d.StopLoss, d.ATR,
			d.Qty, pq.Array(d.Strategies))
		if err != nil {
			return fmt.Errorf("insert decision %s: %w", d.Symbol, err)
		}
	}
	return tx.Commit()
}

// SaveSnapshot records one portfolio snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap persistence.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	positionsJSON, err := json.Marshal(snap.Positions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO portfolio_snapshots (cycle_id, ts, trading_day, equity, cash, realized_pl, unrealized_pl, positions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		snap.CycleID, snap.Timestamp, snap.TradingDay,
		snap.Equity, snap.Cash, snap.RealizedPL, snap.UnrealizedPL,
		positionsJSON)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
