// Package signal generates per-symbol trading signals from independent
// strategies and merges them into at most one decision per symbol.
package signal

import (
	"context"
	"time"

	"github.com/sawpanic/microrun/internal/market"
	"github.com/sawpanic/microrun/internal/universe"
)

// Direction of a signal or decision.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
	Flat  Direction = "flat"
)

// Signal is one strategy's view of one symbol. TPMult/SLMult carry the
// strategy's preferred ATR multiples into the merge.
type Signal struct {
	Symbol     string    `json:"symbol"`
	Strategy   string    `json:"strategy"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	TPMult     float64   `json:"tp_mult"`
	SLMult     float64   `json:"sl_mult"`
	Timestamp  time.Time `json:"timestamp"`
}

// Decision is the single merged conclusion for a symbol in a cycle.
// Invariant: StopLoss < Entry < TakeProfit for longs, mirrored for
// shorts. Qty is filled in by the trader during allocation.
type Decision struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Entry      float64   `json:"entry"`
	TakeProfit float64   `json:"take_profit"`
	StopLoss   float64   `json:"stop_loss"`
	ATR        float64   `json:"atr"`
	Qty        int       `json:"qty,omitempty"`
	CycleID    string    `json:"cycle_id"`
	Strategies []string  `json:"strategies"`
	Timestamp  time.Time `json:"timestamp"`
}

// Input is everything a strategy may evaluate for one symbol.
type Input struct {
	Candidate universe.Candidate
	Bars      []market.Bar
	ETFBars   []market.Bar
	Features  FeatureVector
	Sentiment float64
}

// Strategy is one independent signal generator. Returning (nil, nil)
// means no opinion for this symbol.
type Strategy interface {
	Name() string
	Evaluate(ctx context.Context, in Input) (*Signal, error)
}

// CyclePreparer is implemented by strategies that need cross-symbol
// state refreshed once per cycle (the pair strategy).
type CyclePreparer interface {
	Prepare(ctx context.Context) error
}
