package signal

import (
	"context"
	"math"
	"time"
)

const momentumMinBars = 30

// MomentumBreakout signals long when the latest close breaks above the
// 20-day rolling high with volume confirmation and an up-sloped trend.
type MomentumBreakout struct {
	Window    int
	MinRelVol float64
}

// NewMomentumBreakout creates the strategy with standard tuning.
func NewMomentumBreakout() *MomentumBreakout {
	return &MomentumBreakout{Window: 20, MinRelVol: 1.2}
}

func (s *MomentumBreakout) Name() string { return "momentum-breakout" }

func (s *MomentumBreakout) Evaluate(_ context.Context, in Input) (*Signal, error) {
	if len(in.Bars) < momentumMinBars {
		return nil, nil
	}
	cls := closes(in.Bars)
	last := cls[len(cls)-1]

	high := RollingHigh(cls, s.Window)
	if high <= 0 || last <= high {
		return nil, nil
	}
	if relativeVolume(in.Bars, s.Window) < s.MinRelVol {
		return nil, nil
	}
	if EMA(cls, 12) <= EMA(cls, 26) {
		return nil, nil
	}

	// Breakout strength up to +2% above the high maps onto [0.55, 0.85];
	// a strong volume surge adds a little more.
	strength := math.Min(1, (last/high-1)/0.02)
	confidence := 0.55 + 0.30*strength
	if relativeVolume(in.Bars, s.Window) >= 2.0 {
		confidence += 0.05
	}
	confidence = math.Min(confidence, 0.95)

	return &Signal{
		Symbol:     in.Candidate.Symbol,
		Strategy:   s.Name(),
		Direction:  Long,
		Confidence: confidence,
		TPMult:     3.0,
		SLMult:     1.5,
		Timestamp:  time.Now().UTC(),
	}, nil
}
