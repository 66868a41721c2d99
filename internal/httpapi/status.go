package httpapi

import (
	"sync/atomic"
	"time"

	"github.com/sawpanic/microrun/internal/market"
	"github.com/sawpanic/microrun/internal/signal"
	"github.com/sawpanic/microrun/internal/trader"
)

// Status is the snapshot published after every cycle.
type Status struct {
	CycleID        string                      `json:"cycle_id"`
	StartedAt      time.Time                   `json:"started_at"`
	FinishedAt     time.Time                   `json:"finished_at"`
	Degraded       bool                        `json:"degraded"`
	Universe       []string                    `json:"universe"`
	Decisions      []signal.Decision           `json:"decisions"`
	Positions      map[string]*trader.Position `json:"positions"`
	Equity         float64                     `json:"equity"`
	Cash           float64                     `json:"cash"`
	RealizedPL     float64                     `json:"realized_pl"`
	ProviderHealth []market.Health             `json:"provider_health"`
}

// StatusStore holds the latest snapshot behind an atomic pointer so the
// HTTP handlers never block a running cycle.
type StatusStore struct {
	current atomic.Pointer[Status]
}

// NewStatusStore starts empty; Get before the first cycle returns a
// zero snapshot.
func NewStatusStore() *StatusStore {
	s := &StatusStore{}
	s.current.Store(&Status{})
	return s
}

// Set publishes a new snapshot.
func (s *StatusStore) Set(status Status) {
	s.current.Store(&status)
}

// Get returns the latest snapshot.
func (s *StatusStore) Get() Status {
	return *s.current.Load()
}
