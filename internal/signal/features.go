package signal

import (
	"github.com/sawpanic/microrun/internal/market"
)

// FeatureNames is the canonical classifier input order. The model
// artifact declares the same list; the loader rejects a mismatch.
var FeatureNames = []string{
	"return_5d",
	"return_10d",
	"return_20d",
	"volatility_20d",
	"relative_volume",
	"atr",
	"atr_pct",
	"sentiment",
	"etf_relative_strength",
	"liquidity_bucket",
}

// FeatureVector maps feature name to value. Recomputed every cycle,
// never persisted.
type FeatureVector map[string]float64

// BuildFeatures derives the classifier inputs from price history, the
// reference-ETF history, the sentiment score and a liquidity hint
// (average dollar volume in millions).
func BuildFeatures(bars, etfBars []market.Bar, sentiment, liquidityHint float64) FeatureVector {
	fv := make(FeatureVector, len(FeatureNames))
	for _, name := range FeatureNames {
		fv[name] = 0
	}
	if len(bars) == 0 {
		return fv
	}

	cls := closes(bars)
	last := cls[len(cls)-1]

	fv["return_5d"] = trailingReturn(cls, 5)
	fv["return_10d"] = trailingReturn(cls, 10)
	fv["return_20d"] = trailingReturn(cls, 20)
	fv["volatility_20d"] = StdDev(dailyReturns(cls), 20)

	if rv := relativeVolume(bars, 20); rv > 0 {
		fv["relative_volume"] = rv
	}

	atr := ATR(bars, 14)
	fv["atr"] = atr
	if last > 0 {
		fv["atr_pct"] = atr / last
	}

	fv["sentiment"] = sentiment

	if len(etfBars) > 0 {
		etfLast := etfBars[len(etfBars)-1].Close
		if etfLast > 0 && last > 0 {
			fv["etf_relative_strength"] = last/etfLast - 1
		}
	}

	fv["liquidity_bucket"] = liquidityBucket(bars) + liquidityHint
	return fv
}

func trailingReturn(cls []float64, period int) float64 {
	if len(cls) <= period {
		return 0
	}
	start := cls[len(cls)-period-1]
	if start == 0 {
		return 0
	}
	return cls[len(cls)-1]/start - 1
}

func dailyReturns(cls []float64) []float64 {
	if len(cls) < 2 {
		return nil
	}
	out := make([]float64, 0, len(cls)-1)
	for i := 1; i < len(cls); i++ {
		if cls[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, cls[i]/cls[i-1]-1)
	}
	return out
}

func relativeVolume(bars []market.Bar, window int) float64 {
	if len(bars) == 0 {
		return 0
	}
	vols := make([]float64, len(bars))
	for i, b := range bars {
		vols[i] = b.Volume
	}
	avg := SMA(vols, min(window, len(vols)))
	if avg == 0 {
		return 0
	}
	return vols[len(vols)-1] / avg
}

// liquidityBucket maps 20-day average dollar volume into three coarse
// tiers: <$2M, $2-10M, >$10M.
func liquidityBucket(bars []market.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	window := min(20, len(bars))
	var sum float64
	for _, b := range bars[len(bars)-window:] {
		sum += b.Close * b.Volume
	}
	adv := sum / float64(window)
	switch {
	case adv < 2_000_000:
		return 0
	case adv < 10_000_000:
		return 1
	default:
		return 2
	}
}
