// Package market provides priority-ordered, failover-capable access to
// equity market data across multiple providers.
package market

import "time"

// Quote is a last-trade price snapshot for one symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Bar is one OHLCV aggregate. Immutable once fetched.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Source    string    `json:"source,omitempty"`
}

// Fundamentals carries the per-symbol reference data the universe
// filter needs. Zero fields mean the provider had no value.
type Fundamentals struct {
	Symbol      string  `json:"symbol"`
	MarketCap   float64 `json:"market_cap"`
	FloatShares float64 `json:"float_shares"`
	AvgVolume   float64 `json:"avg_volume"`
	Source      string  `json:"source"`
}

// CircuitState is the failure-isolation state of one provider.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Health is the router's view of one provider's recent behavior.
type Health struct {
	Provider      string       `json:"provider"`
	State         CircuitState `json:"-"`
	Circuit       string       `json:"circuit"`
	Failures      int64        `json:"failures"`
	Consecutive   int          `json:"consecutive_failures"`
	LastFailure   time.Time    `json:"last_failure,omitempty"`
	CooldownUntil time.Time    `json:"cooldown_until,omitempty"`
}
