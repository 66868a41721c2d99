// Package metrics holds the Prometheus registry for microrun.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sawpanic/microrun/internal/market"
)

// Registry holds all Prometheus metrics for microrun.
type Registry struct {
	ProviderCalls    *prometheus.CounterVec
	ProviderFailures *prometheus.CounterVec
	CircuitSkips     *prometheus.CounterVec
	CacheHits        *prometheus.CounterVec

	CycleDuration   prometheus.Histogram
	CyclesTotal     *prometheus.CounterVec
	UniverseSize    prometheus.Gauge
	DegradedCycles  prometheus.Counter
	DecisionsTotal  *prometheus.CounterVec
	OrdersSubmitted *prometheus.CounterVec
	OpenPositions   prometheus.Gauge
	Equity          prometheus.Gauge
	DailyLossBlocks prometheus.Counter

	registry *prometheus.Registry
}

// NewRegistry creates and registers all microrun metrics.
func NewRegistry() *Registry {
	r := &Registry{
		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microrun_provider_calls_total",
				Help: "Market-data provider calls by provider, operation and outcome",
			},
			[]string{"provider", "op", "outcome"},
		),
		ProviderFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microrun_provider_failures_total",
				Help: "Failed provider calls by provider and operation",
			},
			[]string{"provider", "op"},
		),
		CircuitSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microrun_circuit_skips_total",
				Help: "Provider calls skipped because the circuit was open",
			},
			[]string{"provider"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microrun_cache_hits_total",
				Help: "Market-data cache hits by operation",
			},
			[]string{"op"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "microrun_cycle_duration_seconds",
				Help:    "Wall-clock duration of a full pipeline cycle",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microrun_cycles_total",
				Help: "Completed cycles by result",
			},
			[]string{"result"},
		),
		UniverseSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "microrun_universe_size",
				Help: "Candidates in the most recent universe",
			},
		),
		DegradedCycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "microrun_degraded_cycles_total",
				Help: "Cycles that fell back to the static universe snapshot",
			},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microrun_decisions_total",
				Help: "Merged decisions by direction",
			},
			[]string{"direction"},
		),
		OrdersSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microrun_orders_submitted_total",
				Help: "Bracket orders by submission outcome",
			},
			[]string{"outcome"},
		),
		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "microrun_open_positions",
				Help: "Currently open or submitted positions",
			},
		),
		Equity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "microrun_equity_dollars",
				Help: "Account equity as of the last reconcile",
			},
		),
		DailyLossBlocks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "microrun_daily_loss_blocks_total",
				Help: "Cycles where the daily loss breaker blocked new entries",
			},
		),
		registry: prometheus.NewRegistry(),
	}

	r.registry.MustRegister(
		r.ProviderCalls, r.ProviderFailures, r.CircuitSkips, r.CacheHits,
		r.CycleDuration, r.CyclesTotal, r.UniverseSize, r.DegradedCycles,
		r.DecisionsTotal, r.OrdersSubmitted, r.OpenPositions, r.Equity,
		r.DailyLossBlocks,
	)
	return r
}

// Prometheus exposes the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// RouterObserver adapts the registry to the provider router's
// observation hook.
func (r *Registry) RouterObserver() market.Observer {
	return func(provider, op, outcome string) {
		r.ProviderCalls.WithLabelValues(provider, op, outcome).Inc()
		switch outcome {
		case "failure":
			r.ProviderFailures.WithLabelValues(provider, op).Inc()
		case "circuit_skip":
			r.CircuitSkips.WithLabelValues(provider).Inc()
		case "cache_hit":
			r.CacheHits.WithLabelValues(op).Inc()
		}
	}
}
