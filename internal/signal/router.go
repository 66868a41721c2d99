package signal

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

const atrFallbackPct = 0.02

// RouterConfig tunes the merge policy.
type RouterConfig struct {
	// ConflictMargin is the minimum gap between the long and short
	// aggregate confidences needed to resolve a disagreement. A smaller
	// gap abstains.
	ConflictMargin float64
}

// Router runs every strategy against a symbol and merges their signals
// into at most one decision. Strategies are held sorted by name so the
// merge sees them in a fixed order regardless of registration order.
type Router struct {
	strategies []Strategy
	config     RouterConfig
}

// NewRouter creates a router over the given strategies.
func NewRouter(config RouterConfig, strategies ...Strategy) *Router {
	sorted := make([]Strategy, len(strategies))
	copy(sorted, strategies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })
	return &Router{strategies: sorted, config: config}
}

// PrepareCycle refreshes cross-symbol strategy state. Called once at
// the start of each cycle, before any EvaluateSymbol.
func (r *Router) PrepareCycle(ctx context.Context) {
	for _, s := range r.strategies {
		p, ok := s.(CyclePreparer)
		if !ok {
			continue
		}
		if err := p.Prepare(ctx); err != nil {
			log.Warn().Str("strategy", s.Name()).Err(err).Msg("cycle prepare failed")
		}
	}
}

// EvaluateSymbol runs every strategy against one symbol and merges the
// results. A strategy error is logged and treated as no opinion; it
// never blocks the other strategies. Returns nil when no strategy
// fires or the merge abstains.
func (r *Router) EvaluateSymbol(ctx context.Context, cycleID string, in Input) *Decision {
	signals := make([]Signal, 0, len(r.strategies))
	for _, s := range r.strategies {
		sig, err := s.Evaluate(ctx, in)
		if err != nil {
			log.Warn().
				Str("strategy", s.Name()).
				Str("symbol", in.Candidate.Symbol).
				Err(err).
				Msg("strategy evaluation failed")
			continue
		}
		if sig != nil {
			signals = append(signals, *sig)
		}
	}
	return r.Merge(cycleID, in, signals)
}

// Merge collapses the signals for one symbol into at most one decision.
//
// Policy: signals are grouped by direction and each side's confidence
// is the arithmetic mean of its signals. With only one side present
// that side wins. With both sides present, the stronger side wins only
// when the gap between the two aggregates is at least ConflictMargin;
// a narrower gap abstains. TP/SL come from the confidence-weighted
// average of the winning signals' ATR multiples.
func (r *Router) Merge(cycleID string, in Input, signals []Signal) *Decision {
	if len(signals) == 0 {
		return nil
	}

	sort.Slice(signals, func(i, j int) bool { return signals[i].Strategy < signals[j].Strategy })

	var long, short []Signal
	for _, sig := range signals {
		switch sig.Direction {
		case Long:
			long = append(long, sig)
		case Short:
			short = append(short, sig)
		}
	}

	longConf := meanConfidence(long)
	shortConf := meanConfidence(short)

	var winners []Signal
	var direction Direction
	var confidence float64

	switch {
	case len(long) > 0 && len(short) == 0:
		winners, direction, confidence = long, Long, longConf
	case len(short) > 0 && len(long) == 0:
		winners, direction, confidence = short, Short, shortConf
	case longConf >= shortConf+r.config.ConflictMargin:
		winners, direction, confidence = long, Long, longConf
	case shortConf >= longConf+r.config.ConflictMargin:
		winners, direction, confidence = short, Short, shortConf
	default:
		log.Debug().
			Str("symbol", in.Candidate.Symbol).
			Float64("long_confidence", longConf).
			Float64("short_confidence", shortConf).
			Msg("conflicting signals inside margin, abstaining")
		return nil
	}

	entry := in.Candidate.LastPrice
	if entry <= 0 && len(in.Bars) > 0 {
		entry = in.Bars[len(in.Bars)-1].Close
	}
	if entry <= 0 {
		return nil
	}

	atr := ATR(in.Bars, 14)
	if atr <= 0 {
		atr = entry * atrFallbackPct
	}

	tpMult, slMult := weightedMultiples(winners)
	var tp, sl float64
	if direction == Long {
		tp = entry + tpMult*atr
		sl = entry - slMult*atr
		if !(sl < entry && entry < tp) || sl <= 0 {
			return nil
		}
	} else {
		tp = entry - tpMult*atr
		sl = entry + slMult*atr
		if !(tp < entry && entry < sl) || tp <= 0 {
			return nil
		}
	}

	names := make([]string, len(winners))
	for i, sig := range winners {
		names[i] = sig.Strategy
	}

	return &Decision{
		Symbol:     in.Candidate.Symbol,
		Direction:  direction,
		Confidence: confidence,
		Entry:      entry,
		TakeProfit: roundPrice(tp),
		StopLoss:   roundPrice(sl),
		ATR:        atr,
		CycleID:    cycleID,
		Strategies: names,
		Timestamp:  time.Now().UTC(),
	}
}

func meanConfidence(signals []Signal) float64 {
	if len(signals) == 0 {
		return 0
	}
	var sum float64
	for _, s := range signals {
		sum += s.Confidence
	}
	return sum / float64(len(signals))
}

// weightedMultiples averages the winners' ATR multiples weighted by
// confidence, so a strong momentum signal pulls the bracket wider than
// a weak mean-reversion one.
func weightedMultiples(signals []Signal) (tp, sl float64) {
	var wsum float64
	for _, s := range signals {
		w := s.Confidence
		if w <= 0 {
			w = 1e-9
		}
		tp += w * s.TPMult
		sl += w * s.SLMult
		wsum += w
	}
	if wsum == 0 {
		return 2.0, 1.0
	}
	return tp / wsum, sl / wsum
}

func roundPrice(v float64) float64 {
	return math.Round(v*100) / 100
}
