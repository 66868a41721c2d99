package signal

import (
	"math"

	"github.com/sawpanic/microrun/internal/market"
)

// Technical indicator primitives shared by the strategies. All helpers
// return 0 when the series is too short; callers gate on bar counts.

func closes(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// SMA returns the simple moving average of the last window values.
func SMA(values []float64, window int) float64 {
	if window <= 0 || len(values) < window {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-window:] {
		sum += v
	}
	return sum / float64(window)
}

// EMA returns the exponential moving average of the last value, seeded
// with an SMA over the first window values.
func EMA(values []float64, window int) float64 {
	if window <= 0 || len(values) < window {
		return 0
	}
	ema := SMA(values[:window], window)
	k := 2.0 / float64(window+1)
	for _, v := range values[window:] {
		ema = v*k + ema*(1-k)
	}
	return ema
}

// RSI returns the Wilder relative strength index of the last value.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) <= period {
		return 0
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		g, l := 0.0, 0.0
		if delta > 0 {
			g = delta
		} else {
			l = -delta
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ATR returns the Wilder average true range over period.
func ATR(bars []market.Bar, period int) float64 {
	if period <= 0 || len(bars) <= period {
		return 0
	}
	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		high, low, prevClose := bars[i].High, bars[i].Low, bars[i-1].Close
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trs = append(trs, tr)
	}
	atr := 0.0
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr
}

// VWAP returns the cumulative volume-weighted average price.
func VWAP(bars []market.Bar) float64 {
	var pv, vol float64
	for _, b := range bars {
		v := b.Volume
		if v == 0 {
			v = 1
		}
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * v
		vol += v
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}

// StdDev returns the sample standard deviation of the last window values.
func StdDev(values []float64, window int) float64 {
	if window <= 1 || len(values) < window {
		return 0
	}
	tail := values[len(values)-window:]
	mean := SMA(tail, window)
	var ss float64
	for _, v := range tail {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(window-1))
}

// RollingHigh returns the highest value in the window ending just
// before the last value, so a breakout compares last against it.
func RollingHigh(values []float64, window int) float64 {
	if window <= 0 || len(values) < window+1 {
		return 0
	}
	tail := values[len(values)-window-1 : len(values)-1]
	high := tail[0]
	for _, v := range tail[1:] {
		if v > high {
			high = v
		}
	}
	return high
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
