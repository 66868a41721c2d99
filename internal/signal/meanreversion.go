package signal

import (
	"context"
	"math"
	"time"
)

const meanRevMinBars = 30

// MeanReversion signals long when price is stretched below a
// volatility-scaled band under VWAP with an oversold RSI, expecting a
// snap back toward the mean.
type MeanReversion struct {
	RSIFloor  float64
	BandWidth float64 // standard deviations below VWAP
}

// NewMeanReversion creates the strategy with standard tuning.
func NewMeanReversion() *MeanReversion {
	return &MeanReversion{RSIFloor: 32, BandWidth: 2.0}
}

func (s *MeanReversion) Name() string { return "mean-reversion" }

func (s *MeanReversion) Evaluate(_ context.Context, in Input) (*Signal, error) {
	if len(in.Bars) < meanRevMinBars {
		return nil, nil
	}
	cls := closes(in.Bars)
	last := cls[len(cls)-1]

	rsi := RSI(cls, 14)
	if rsi >= s.RSIFloor {
		return nil, nil
	}
	band := VWAP(in.Bars) - s.BandWidth*StdDev(cls, 20)
	if last >= band {
		return nil, nil
	}

	confidence := math.Min(0.85, 0.5+(0.5-rsi/100))

	return &Signal{
		Symbol:     in.Candidate.Symbol,
		Strategy:   s.Name(),
		Direction:  Long,
		Confidence: confidence,
		TPMult:     2.0,
		SLMult:     1.0,
		Timestamp:  time.Now().UTC(),
	}, nil
}
