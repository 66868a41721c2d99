// Package trader turns merged decisions into bracket orders under the
// configured risk limits, and owns the persisted portfolio state.
package trader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrPersistence marks a failed durable write of the portfolio state.
// It aborts further order submission for the cycle: capital accounting
// must never drift ahead of what is on disk.
var ErrPersistence = errors.New("portfolio state persistence failed")

// PositionState is the per-symbol order lifecycle.
type PositionState string

const (
	NoPosition        PositionState = "no_position"
	EntrySubmitted    PositionState = "entry_submitted"
	Open              PositionState = "open"
	TakeProfitFilled  PositionState = "take_profit_filled"
	StopLossFilled    PositionState = "stop_loss_filled"
	ManuallyFlattened PositionState = "manually_flattened"
	Closed            PositionState = "closed"
)

// Position is one tracked bracket position.
type Position struct {
	Symbol     string        `json:"symbol"`
	Qty        int           `json:"qty"`
	Side       string        `json:"side"`
	EntryPrice float64       `json:"entry_price"`
	TakeProfit float64       `json:"take_profit"`
	StopLoss   float64       `json:"stop_loss"`
	OrderID    string        `json:"order_id,omitempty"`
	State      PositionState `json:"state"`
	CycleID    string        `json:"cycle_id,omitempty"`
	OpenedAt   time.Time     `json:"opened_at"`
}

// PortfolioState is the durable record of capital and open positions.
// Mutated only by the trader, persisted after every change.
type PortfolioState struct {
	Equity         float64              `json:"equity"`
	Cash           float64              `json:"cash"`
	DayStartEquity float64              `json:"day_start_equity"`
	TradingDay     string               `json:"trading_day"`
	RealizedPL     float64              `json:"realized_pl"`
	UnrealizedPL   float64              `json:"unrealized_pl"`
	Positions      map[string]*Position `json:"positions"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// NewPortfolioState returns an empty state ready for reconciliation.
func NewPortfolioState() *PortfolioState {
	return &PortfolioState{Positions: make(map[string]*Position)}
}

// EnsureTradingDay rolls the daily accounting when the calendar day
// changes: day-start equity resets to current equity and realized P&L
// starts over.
func (s *PortfolioState) EnsureTradingDay(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if s.TradingDay == day {
		return
	}
	s.TradingDay = day
	s.DayStartEquity = s.Equity
	s.RealizedPL = 0
}

// DailyLossBreached reports whether the daily loss breaker has tripped.
func (s *PortfolioState) DailyLossBreached(maxDailyLossPct float64) bool {
	if s.DayStartEquity <= 0 {
		return false
	}
	return (s.DayStartEquity-s.Equity)/s.DayStartEquity >= maxDailyLossPct
}

// OpenPositionCount counts positions that are submitted or open.
func (s *PortfolioState) OpenPositionCount() int {
	n := 0
	for _, p := range s.Positions {
		if p.State == EntrySubmitted || p.State == Open {
			n++
		}
	}
	return n
}

// FileStore persists the portfolio state as JSON with a write-to-temp
// then rename, so a crash mid-write leaves the previous state intact.
type FileStore struct {
	path string
}

// NewFileStore creates a store at path, creating parent directories on
// first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted state. A missing file returns a fresh empty
// state; a corrupt file is an error, not silent data loss.
func (fs *FileStore) Load() (*PortfolioState, error) {
	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewPortfolioState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read portfolio state: %w", err)
	}
	var state PortfolioState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse portfolio state %q: %w", fs.path, err)
	}
	if state.Positions == nil {
		state.Positions = make(map[string]*Position)
	}
	return &state, nil
}

// Save durably writes the state. Any failure is wrapped in
// ErrPersistence so callers can recognize it and stop trading.
func (fs *FileStore) Save(state *PortfolioState) error {
	state.UpdatedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".portfolio-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
