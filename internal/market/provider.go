package market

import (
	"context"
	"errors"
	"fmt"
)

// Provider is one upstream market-data source. Implementations must be
// safe for concurrent use and must honor ctx deadlines.
type Provider interface {
	Name() string
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	GetBars(ctx context.Context, symbol, interval string, limit int) ([]Bar, error)
	GetFundamentals(ctx context.Context, symbol string) (Fundamentals, error)
	GetETFHoldings(ctx context.Context, etf string) ([]string, error)
}

var (
	// ErrNoData means every provider was exhausted for a symbol. Callers
	// must treat this as "skip symbol", never as zero/default data.
	ErrNoData = errors.New("no data available from any provider")

	// ErrUnsupported marks an operation a provider does not offer. The
	// router moves to the next provider without a health penalty.
	ErrUnsupported = errors.New("operation not supported by provider")

	// ErrCircuitOpen is returned by a breaker that is rejecting calls.
	ErrCircuitOpen = errors.New("provider circuit open")
)

// ProviderError wraps a single provider failure with attribution.
type ProviderError struct {
	Provider string
	Op       string
	Symbol   string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s(%s): %v", e.Provider, e.Op, e.Symbol, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
