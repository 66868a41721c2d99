package market

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider scripts per-op behavior and counts calls.
type stubProvider struct {
	name       string
	quote      Quote
	quoteErr   error
	bars       []Bar
	barsErr    error
	quoteCalls int
	barsCalls  int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	s.quoteCalls++
	if s.quoteErr != nil {
		return Quote{}, s.quoteErr
	}
	q := s.quote
	q.Symbol = symbol
	return q, nil
}

func (s *stubProvider) GetBars(ctx context.Context, symbol, interval string, limit int) ([]Bar, error) {
	s.barsCalls++
	if s.barsErr != nil {
		return nil, s.barsErr
	}
	return s.bars, nil
}

func (s *stubProvider) GetFundamentals(ctx context.Context, symbol string) (Fundamentals, error) {
	return Fundamentals{}, ErrUnsupported
}

func (s *stubProvider) GetETFHoldings(ctx context.Context, etf string) ([]string, error) {
	return nil, ErrUnsupported
}

func newTestRouter(providers ...Provider) *Router {
	cfg := DefaultRouterConfig()
	cfg.QuoteTTL = time.Minute
	return NewRouter(providers, NewMemoryCache(), NewRateLimiter(1000, 1000), cfg)
}

func TestRouterFallsThroughToThirdProvider(t *testing.T) {
	p1 := &stubProvider{name: "alpaca", quoteErr: errors.New("timeout")}
	p2 := &stubProvider{name: "twelvedata", quoteErr: errors.New("503")}
	p3 := &stubProvider{name: "alphavantage", quote: Quote{Price: 12.34}}
	r := newTestRouter(p1, p2, p3)

	q, err := r.GetQuote(context.Background(), "XYZ")
	require.NoError(t, err)
	assert.Equal(t, 12.34, q.Price)
	assert.Equal(t, "alphavantage", q.Source)

	health := r.Health()
	require.Len(t, health, 3)
	assert.Equal(t, int64(1), health[0].Failures)
	assert.Equal(t, int64(1), health[1].Failures)
	assert.Equal(t, int64(0), health[2].Failures)
}

func TestRouterReturnsNoDataWhenAllFail(t *testing.T) {
	p1 := &stubProvider{name: "alpaca", quoteErr: errors.New("down")}
	p2 := &stubProvider{name: "twelvedata", quoteErr: errors.New("down")}
	r := newTestRouter(p1, p2)

	_, err := r.GetQuote(context.Background(), "XYZ")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRouterEmptyPayloadCountsAsFailure(t *testing.T) {
	p1 := &stubProvider{name: "alpaca", quote: Quote{Price: 0}} // malformed
	p2 := &stubProvider{name: "twelvedata", quote: Quote{Price: 9.50}}
	r := newTestRouter(p1, p2)

	q, err := r.GetQuote(context.Background(), "ABC")
	require.NoError(t, err)
	assert.Equal(t, 9.50, q.Price)
	assert.Equal(t, int64(1), r.Health()[0].Failures)
}

func TestRouterSkipsOpenCircuit(t *testing.T) {
	p1 := &stubProvider{name: "alpaca", quoteErr: errors.New("down")}
	p2 := &stubProvider{name: "twelvedata", quote: Quote{Price: 5}}
	r := newTestRouter(p1, p2)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := r.GetQuote(ctx, fmt.Sprintf("SYM%d", i))
		require.NoError(t, err)
	}
	require.Equal(t, CircuitOpen, r.Health()[0].State)
	callsBefore := p1.quoteCalls

	_, err := r.GetQuote(ctx, "SYM9")
	require.NoError(t, err)
	assert.Equal(t, callsBefore, p1.quoteCalls, "open circuit must be skipped entirely")
}

func TestRouterCachesInsideTTL(t *testing.T) {
	p1 := &stubProvider{name: "alpaca", quote: Quote{Price: 7.25}}
	r := newTestRouter(p1)

	ctx := context.Background()
	_, err := r.GetQuote(ctx, "CACHED")
	require.NoError(t, err)
	_, err = r.GetQuote(ctx, "CACHED")
	require.NoError(t, err)

	assert.Equal(t, 1, p1.quoteCalls, "second lookup must come from cache")
}

func TestRouterUnsupportedDoesNotPenalize(t *testing.T) {
	p1 := &stubProvider{name: "alpaca", barsErr: ErrUnsupported}
	p2 := &stubProvider{name: "twelvedata", bars: []Bar{{Close: 10, Timestamp: time.Now()}}}
	r := newTestRouter(p1, p2)

	bars, err := r.GetBars(context.Background(), "DEF", "1day", 30)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, int64(0), r.Health()[0].Failures)
}

func TestRouterFundamentalsExhaustedIsNoData(t *testing.T) {
	p1 := &stubProvider{name: "alpaca"}
	r := newTestRouter(p1)

	_, err := r.GetFundamentals(context.Background(), "GHI")
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, int64(0), r.Health()[0].Failures, "unsupported ops carry no penalty")
}
