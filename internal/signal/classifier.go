package signal

import (
	"context"
	"fmt"
	"time"
)

// Scorer produces a probability in [0,1] that a symbol outperforms over
// the holding horizon.
type Scorer interface {
	Score(features FeatureVector) (float64, error)
}

// Classifier wraps a trained model as a strategy. It emits a long
// signal only when the probability clears the configured floor, with
// the raw probability as the confidence.
type Classifier struct {
	scorer Scorer
	floor  float64
}

// NewClassifier creates the strategy around a scorer and its floor.
func NewClassifier(scorer Scorer, floor float64) *Classifier {
	return &Classifier{scorer: scorer, floor: floor}
}

func (s *Classifier) Name() string { return "gbdt-classifier" }

func (s *Classifier) Evaluate(_ context.Context, in Input) (*Signal, error) {
	if s.scorer == nil || in.Features == nil {
		return nil, nil
	}
	prob, err := s.scorer.Score(in.Features)
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", in.Candidate.Symbol, err)
	}
	if prob < s.floor {
		return nil, nil
	}
	return &Signal{
		Symbol:     in.Candidate.Symbol,
		Strategy:   s.Name(),
		Direction:  Long,
		Confidence: prob,
		TPMult:     2.0,
		SLMult:     1.0,
		Timestamp:  time.Now().UTC(),
	}, nil
}
