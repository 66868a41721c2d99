package signal

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/microrun/internal/market"
)

const (
	pairLookback   = 60
	pairZThreshold = 2.0
)

// BarSource is the slice of the data router the pair strategy needs.
type BarSource interface {
	GetBars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error)
}

// Pair names the two legs of a spread trade: a small-cap symbol against
// its reference ETF or a leveraged proxy.
type Pair struct {
	Symbol    string `yaml:"symbol" json:"symbol"`
	Reference string `yaml:"reference" json:"reference"`
}

// PairArbitrage trades the z-score of the close spread between each
// configured pair. Spread history is refreshed once per cycle via
// Prepare; Evaluate is then a map lookup, so per-symbol evaluation stays
// independent of call order.
type PairArbitrage struct {
	source BarSource
	pairs  []Pair

	mu       sync.RWMutex
	prepared map[string]*Signal
}

// NewPairArbitrage creates the strategy over the configured pairs.
func NewPairArbitrage(source BarSource, pairs []Pair) *PairArbitrage {
	return &PairArbitrage{
		source:   source,
		pairs:    pairs,
		prepared: make(map[string]*Signal),
	}
}

func (s *PairArbitrage) Name() string { return "pair-arbitrage" }

// Prepare recomputes the spread z-score for every configured pair. A
// pair whose history cannot be fetched is skipped for this cycle; the
// remaining pairs still produce signals.
func (s *PairArbitrage) Prepare(ctx context.Context) error {
	next := make(map[string]*Signal)

	for _, p := range s.pairs {
		sig, err := s.evaluatePair(ctx, p)
		if err != nil {
			log.Warn().
				Str("symbol", p.Symbol).
				Str("reference", p.Reference).
				Err(err).
				Msg("pair spread unavailable, skipping this cycle")
			continue
		}
		if sig != nil {
			next[sig.Symbol] = sig
		}
	}

	s.mu.Lock()
	s.prepared = next
	s.mu.Unlock()
	return nil
}

func (s *PairArbitrage) evaluatePair(ctx context.Context, p Pair) (*Signal, error) {
	barsA, err := s.source.GetBars(ctx, p.Symbol, "1day", pairLookback)
	if err != nil {
		return nil, err
	}
	barsB, err := s.source.GetBars(ctx, p.Reference, "1day", pairLookback)
	if err != nil {
		return nil, err
	}

	n := min(len(barsA), len(barsB))
	if n < 20 {
		return nil, nil
	}
	clsA := closes(barsA[len(barsA)-n:])
	clsB := closes(barsB[len(barsB)-n:])

	spread := make([]float64, n)
	for i := range spread {
		spread[i] = clsA[i] - clsB[i]
	}

	mu := mean(spread)
	sd := StdDev(spread, n)
	if sd == 0 {
		return nil, nil
	}
	z := (spread[n-1] - mu) / sd
	if math.Abs(z) < pairZThreshold {
		return nil, nil
	}

	// Spread stretched high means the small-cap leg is rich against its
	// reference: short it, and vice versa.
	direction := Long
	if z > 0 {
		direction = Short
	}

	return &Signal{
		Symbol:     p.Symbol,
		Strategy:   s.Name(),
		Direction:  direction,
		Confidence: math.Min(0.9, math.Abs(z)/3),
		TPMult:     2.0,
		SLMult:     1.0,
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (s *PairArbitrage) Evaluate(_ context.Context, in Input) (*Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.prepared[in.Candidate.Symbol]
	if !ok {
		return nil, nil
	}
	cp := *sig
	return &cp, nil
}
