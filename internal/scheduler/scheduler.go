// Package scheduler drives the pipeline on a fixed interval with a
// non-overlap guard: a cycle that overruns simply delays the next one.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// CycleFunc runs one full pipeline pass.
type CycleFunc func(ctx context.Context) error

// Scheduler ticks a CycleFunc at a fixed interval.
type Scheduler struct {
	interval time.Duration
	cycle    CycleFunc
	running  atomic.Bool
}

// New creates a scheduler. The first cycle runs immediately on Run.
func New(interval time.Duration, cycle CycleFunc) *Scheduler {
	return &Scheduler{interval: interval, cycle: cycle}
}

// Run blocks until ctx is canceled. Cycle errors are logged; the next
// tick retries on the normal interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one cycle unless one is already in flight.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		log.Warn().Msg("previous cycle still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	start := time.Now()
	if err := s.cycle(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("cycle failed")
		return
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("cycle complete")
}
