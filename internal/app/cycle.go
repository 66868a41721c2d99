package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/microrun/internal/httpapi"
	"github.com/sawpanic/microrun/internal/market"
	"github.com/sawpanic/microrun/internal/persistence"
	"github.com/sawpanic/microrun/internal/signal"
	"github.com/sawpanic/microrun/internal/trader"
	"github.com/sawpanic/microrun/internal/universe"
)

// Cycle runs one full pipeline pass. Per-symbol failures are isolated;
// only trader-level persistence failures abort the cycle.
func (a *App) Cycle(ctx context.Context) error {
	cycleID := uuid.NewString()
	started := time.Now()
	logger := log.With().Str("cycle_id", cycleID).Logger()

	uni, err := a.Universe.Build(ctx)
	if err != nil {
		a.Metrics.CyclesTotal.WithLabelValues("universe_failed").Inc()
		return err
	}
	a.Metrics.UniverseSize.Set(float64(len(uni.Candidates)))
	if uni.Degraded {
		a.Metrics.DegradedCycles.Inc()
	}
	logger.Info().Int("candidates", len(uni.Candidates)).Bool("degraded", uni.Degraded).Msg("universe built")

	a.Signals.PrepareCycle(ctx)

	refBars := a.referenceBars(ctx)
	decisions := a.evaluateCandidates(ctx, cycleID, uni.Candidates, refBars)
	for _, d := range decisions {
		a.Metrics.DecisionsTotal.WithLabelValues(string(d.Direction)).Inc()
	}
	logger.Info().Int("decisions", len(decisions)).Msg("signals merged")

	state, execErr := a.Trader.Execute(ctx, decisions)
	if state != nil {
		a.Metrics.Equity.Set(state.Equity)
		a.Metrics.OpenPositions.Set(float64(state.OpenPositionCount()))
		if len(decisions) > 0 && state.DailyLossBreached(a.Config.Trading.MaxDailyLossPct) {
			a.Metrics.DailyLossBlocks.Inc()
		}
	}

	a.publish(cycleID, started, uni, decisions, state)
	a.persistHistory(ctx, cycleID, decisions, state)

	if execErr != nil {
		a.Metrics.CyclesTotal.WithLabelValues("trader_failed").Inc()
		return execErr
	}
	a.Metrics.CyclesTotal.WithLabelValues("ok").Inc()
	a.Metrics.CycleDuration.Observe(time.Since(started).Seconds())
	return nil
}

// referenceBars fetches the reference-ETF history used for relative
// strength. Missing data degrades the feature to zero.
func (a *App) referenceBars(ctx context.Context) []market.Bar {
	cfg := a.Config.Signals
	if cfg.ReferenceETF == "" {
		return nil
	}
	bars, err := a.Data.GetBars(ctx, cfg.ReferenceETF, cfg.BarInterval, cfg.BarLookback)
	if err != nil {
		log.Warn().Str("etf", cfg.ReferenceETF).Err(err).Msg("reference ETF bars unavailable")
		return nil
	}
	return bars
}

// evaluateCandidates runs the per-symbol fetch and evaluation over a
// bounded worker pool.
func (a *App) evaluateCandidates(ctx context.Context, cycleID string, candidates []universe.Candidate, refBars []market.Bar) []signal.Decision {
	workers := a.Config.Providers.MaxConcurrent
	if workers <= 0 {
		workers = 8
	}

	var (
		mu        sync.Mutex
		decisions []signal.Decision
		wg        sync.WaitGroup
		sem       = make(chan struct{}, workers)
	)

	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(c universe.Candidate) {
			defer wg.Done()
			defer func() { <-sem }()

			d := a.evaluateOne(ctx, cycleID, c, refBars)
			if d == nil {
				return
			}
			mu.Lock()
			decisions = append(decisions, *d)
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return decisions
}

func (a *App) evaluateOne(ctx context.Context, cycleID string, c universe.Candidate, refBars []market.Bar) *signal.Decision {
	cfg := a.Config.Signals

	bars, err := a.Data.GetBars(ctx, c.Symbol, cfg.BarInterval, cfg.BarLookback)
	if err != nil {
		log.Debug().Str("symbol", c.Symbol).Err(err).Msg("no bar history, symbol skipped")
		return nil
	}

	if a.Archive != nil {
		if err := a.Archive.WriteBars(c.Symbol, bars); err != nil {
			log.Warn().Str("symbol", c.Symbol).Err(err).Msg("bar archive write failed")
		}
	}

	score := a.Sentiment.Score(ctx, c.Symbol)
	features := signal.BuildFeatures(bars, refBars, score, c.AvgDollarVolume/1_000_000)

	return a.Signals.EvaluateSymbol(ctx, cycleID, signal.Input{
		Candidate: c,
		Bars:      bars,
		ETFBars:   refBars,
		Features:  features,
		Sentiment: score,
	})
}

func (a *App) publish(cycleID string, started time.Time, uni universe.Universe, decisions []signal.Decision, state *trader.PortfolioState) {
	symbols := make([]string, len(uni.Candidates))
	for i, c := range uni.Candidates {
		symbols[i] = c.Symbol
	}

	status := httpapi.Status{
		CycleID:        cycleID,
		StartedAt:      started.UTC(),
		FinishedAt:     time.Now().UTC(),
		Degraded:       uni.Degraded,
		Universe:       symbols,
		Decisions:      decisions,
		ProviderHealth: a.Data.Health(),
	}
	if state != nil {
		status.Positions = state.Positions
		status.Equity = state.Equity
		status.Cash = state.Cash
		status.RealizedPL = state.RealizedPL
	}
	a.Status.Set(status)
}

func (a *App) persistHistory(ctx context.Context, cycleID string, decisions []signal.Decision, state *trader.PortfolioState) {
	if a.History == nil {
		return
	}
	if err := a.History.SaveDecisions(ctx, decisions); err != nil {
		log.Warn().Err(err).Msg("decision history write failed")
	}
	if state == nil {
		return
	}
	err := a.History.SaveSnapshot(ctx, persistence.Snapshot{
		CycleID:      cycleID,
		Timestamp:    time.Now().UTC(),
		TradingDay:   state.TradingDay,
		Equity:       state.Equity,
		Cash:         state.Cash,
		RealizedPL:   state.RealizedPL,
		UnrealizedPL: state.UnrealizedPL,
		Positions:    state.Positions,
	})
	if err != nil {
		log.Warn().Err(err).Msg("snapshot history write failed")
	}
}
