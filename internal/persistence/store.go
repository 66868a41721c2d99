// Package persistence keeps durable history of cycle output: merged
// decisions and portfolio snapshots. It is optional; the file-based
// portfolio state remains the trader's recovery point.
package persistence

import (
	"context"
	"time"

	"github.com/sawpanic/microrun/internal/signal"
	"github.com/sawpanic/microrun/internal/trader"
)

// Snapshot is one point-in-time portfolio record.
type Snapshot struct {
	CycleID      string
	Timestamp    time.Time
	TradingDay   string
	Equity       float64
	Cash         float64
	RealizedPL   float64
	UnrealizedPL float64
	Positions    map[string]*trader.Position
}

// Store records cycle history.
type Store interface {
	SaveDecisions(ctx context.Context, decisions []signal.Decision) error
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	Close() error
}
