package signal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/microrun/internal/market"
	"github.com/sawpanic/microrun/internal/universe"
)

func barsFromCloses(closes []float64, volume float64) []market.Bar {
	ts := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{
			Timestamp: ts.AddDate(0, 0, i),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    volume,
		}
	}
	return bars
}

func TestMomentumFiresOnBreakoutWithVolume(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 10 + 0.05*float64(i)
	}
	closes[39] = closes[38] * 1.015
	bars := barsFromCloses(closes, 100_000)
	bars[39].Volume = 300_000

	s := NewMomentumBreakout()
	got, err := s.Evaluate(context.Background(), Input{
		Candidate: universe.Candidate{Symbol: "BRKO"},
		Bars:      bars,
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, Long, got.Direction)
	assert.Equal(t, 3.0, got.TPMult)
	assert.Equal(t, 1.5, got.SLMult)
	assert.Greater(t, got.Confidence, 0.55)
	assert.LessOrEqual(t, got.Confidence, 0.95)
}

func TestMomentumSilentWithoutVolumeConfirmation(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 10 + 0.05*float64(i)
	}
	closes[39] = closes[38] * 1.015
	bars := barsFromCloses(closes, 100_000)
	bars[39].Volume = 50_000

	s := NewMomentumBreakout()
	got, err := s.Evaluate(context.Background(), Input{
		Candidate: universe.Candidate{Symbol: "BRKO"},
		Bars:      bars,
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMomentumSilentBelowRollingHigh(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 10 + 0.05*float64(i)
	}
	closes[39] = closes[38] * 0.99
	bars := barsFromCloses(closes, 100_000)
	bars[39].Volume = 300_000

	s := NewMomentumBreakout()
	got, err := s.Evaluate(context.Background(), Input{
		Candidate: universe.Candidate{Symbol: "BRKO"},
		Bars:      bars,
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMeanReversionFiresWhenOversold(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		if i < 25 {
			closes[i] = 20
		} else {
			closes[i] = 20 - 0.8*float64(i-24)
		}
	}
	bars := barsFromCloses(closes, 100_000)

	s := NewMeanReversion()
	got, err := s.Evaluate(context.Background(), Input{
		Candidate: universe.Candidate{Symbol: "OVSD"},
		Bars:      bars,
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, Long, got.Direction)
	assert.Equal(t, 2.0, got.TPMult)
	assert.Equal(t, 1.0, got.SLMult)
	assert.LessOrEqual(t, got.Confidence, 0.85)
}

func TestMeanReversionSilentNearMean(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 20 + 0.1*float64(i%3)
	}
	bars := barsFromCloses(closes, 100_000)

	s := NewMeanReversion()
	got, err := s.Evaluate(context.Background(), Input{
		Candidate: universe.Candidate{Symbol: "CALM"},
		Bars:      bars,
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}

type stubBarSource struct {
	bars map[string][]market.Bar
	errs map[string]error
}

func (s *stubBarSource) GetBars(_ context.Context, symbol, _ string, _ int) ([]market.Bar, error) {
	if err, ok := s.errs[symbol]; ok {
		return nil, err
	}
	return s.bars[symbol], nil
}

func TestPairArbitrageSignalsOnStretchedSpread(t *testing.T) {
	legA := make([]float64, 60)
	legB := make([]float64, 60)
	for i := range legA {
		noise := 0.1
		if i%2 == 0 {
			noise = -0.1
		}
		legA[i] = 55 + noise
		legB[i] = 50
	}
	legA[59] = 50 // spread collapses from ~5 to 0

	src := &stubBarSource{bars: map[string][]market.Bar{
		"SMCP": barsFromCloses(legA, 100_000),
		"IWM":  barsFromCloses(legB, 100_000),
	}}

	s := NewPairArbitrage(src, []Pair{{Symbol: "SMCP", Reference: "IWM"}})
	require.NoError(t, s.Prepare(context.Background()))

	got, err := s.Evaluate(context.Background(), Input{Candidate: universe.Candidate{Symbol: "SMCP"}})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, Long, got.Direction, "spread far below its mean means the small-cap leg is cheap")
	assert.InDelta(t, 0.9, got.Confidence, 1e-9, "confidence saturates on an extreme z-score")
}

func TestPairArbitrageSilentWhenSpreadNormal(t *testing.T) {
	legA := make([]float64, 60)
	legB := make([]float64, 60)
	for i := range legA {
		noise := 0.1
		if i%2 == 0 {
			noise = -0.1
		}
		legA[i] = 55 + noise
		legB[i] = 50
	}

	src := &stubBarSource{bars: map[string][]market.Bar{
		"SMCP": barsFromCloses(legA, 100_000),
		"IWM":  barsFromCloses(legB, 100_000),
	}}

	s := NewPairArbitrage(src, []Pair{{Symbol: "SMCP", Reference: "IWM"}})
	require.NoError(t, s.Prepare(context.Background()))

	got, err := s.Evaluate(context.Background(), Input{Candidate: universe.Candidate{Symbol: "SMCP"}})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPairArbitrageSkipsUnfetchablePair(t *testing.T) {
	src := &stubBarSource{errs: map[string]error{"SMCP": errors.New("provider down")}}

	s := NewPairArbitrage(src, []Pair{{Symbol: "SMCP", Reference: "IWM"}})
	require.NoError(t, s.Prepare(context.Background()))

	got, err := s.Evaluate(context.Background(), Input{Candidate: universe.Candidate{Symbol: "SMCP"}})
	require.NoError(t, err)
	assert.Nil(t, got)
}

type stubScorer struct {
	prob float64
	err  error
}

func (s *stubScorer) Score(FeatureVector) (float64, error) { return s.prob, s.err }

func TestClassifierRespectsFloor(t *testing.T) {
	in := Input{
		Candidate: universe.Candidate{Symbol: "MLUP"},
		Features:  FeatureVector{"return_5d": 0.02},
	}

	below := NewClassifier(&stubScorer{prob: 0.55}, 0.60)
	got, err := below.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, got)

	above := NewClassifier(&stubScorer{prob: 0.74}, 0.60)
	got, err = above.Evaluate(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, Long, got.Direction)
	assert.InDelta(t, 0.74, got.Confidence, 1e-9)
}

type erroringStrategy struct{ name string }

func (s *erroringStrategy) Name() string { return s.name }
func (s *erroringStrategy) Evaluate(context.Context, Input) (*Signal, error) {
	return nil, errors.New("boom")
}

type fixedStrategy struct {
	name string
	out  Signal
}

func (s *fixedStrategy) Name() string { return s.name }
func (s *fixedStrategy) Evaluate(_ context.Context, in Input) (*Signal, error) {
	out := s.out
	out.Symbol = in.Candidate.Symbol
	out.Strategy = s.name
	return &out, nil
}

func TestEvaluateSymbolSurvivesStrategyError(t *testing.T) {
	r := NewRouter(RouterConfig{ConflictMargin: 0.10},
		&erroringStrategy{name: "broken"},
		&fixedStrategy{name: "steady", out: Signal{Direction: Long, Confidence: 0.8, TPMult: 2.0, SLMult: 1.0}},
	)

	d := r.EvaluateSymbol(context.Background(), "cycle-1", testInput("TEST", 10.0))
	require.NotNil(t, d)
	assert.Equal(t, []string{"steady"}, d.Strategies)
}
