package universe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/microrun/internal/market"
)

type fakeData struct {
	holdings map[string][]string
	funds    map[string]market.Fundamentals
	quotes   map[string]float64
	volumes  map[string]float64 // per-bar share volume
}

func (f *fakeData) GetETFHoldings(_ context.Context, etf string) ([]string, error) {
	h, ok := f.holdings[etf]
	if !ok {
		return nil, market.ErrNoData
	}
	return h, nil
}

func (f *fakeData) GetFundamentals(_ context.Context, symbol string) (market.Fundamentals, error) {
	fund, ok := f.funds[symbol]
	if !ok {
		return market.Fundamentals{}, market.ErrNoData
	}
	return fund, nil
}

func (f *fakeData) GetQuote(_ context.Context, symbol string) (market.Quote, error) {
	p, ok := f.quotes[symbol]
	if !ok {
		return market.Quote{}, market.ErrNoData
	}
	return market.Quote{Symbol: symbol, Price: p}, nil
}

func (f *fakeData) GetBars(_ context.Context, symbol, interval string, limit int) ([]market.Bar, error) {
	price, ok := f.quotes[symbol]
	if !ok {
		return nil, market.ErrNoData
	}
	vol := f.volumes[symbol]
	bars := make([]market.Bar, 25)
	for i := range bars {
		bars[i] = market.Bar{
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Close:     price,
			Volume:    vol,
		}
	}
	return bars, nil
}

func testConfig() Config {
	return Config{
		ETFs:            []string{"IWM"},
		MinMarketCap:    50_000_000,
		MaxMarketCap:    2_000_000_000,
		MinPrice:        2.0,
		MaxPrice:        500.0,
		MinDollarVolume: 250_000,
		MinLiveSymbols:  2,
		MaxConcurrent:   4,
	}
}

func TestBuildFiltersAndOrders(t *testing.T) {
	data := &fakeData{
		holdings: map[string][]string{"IWM": {"AAA", "BBB", "CCC", "DDD", "EEE"}},
		funds: map[string]market.Fundamentals{
			"AAA": {Symbol: "AAA", MarketCap: 500_000_000},
			"BBB": {Symbol: "BBB", MarketCap: 5_000_000_000}, // cap too large
			"CCC": {Symbol: "CCC", MarketCap: 900_000_000},
			"DDD": {Symbol: "DDD", MarketCap: 400_000_000},
			"EEE": {Symbol: "EEE", MarketCap: 300_000_000},
		},
		quotes: map[string]float64{
			"AAA": 10.0,
			"BBB": 40.0,
			"CCC": 1.5, // below price floor
			"DDD": 25.0,
			"EEE": 8.0,
		},
		volumes: map[string]float64{
			"AAA": 200_000, // ADV $2M
			"BBB": 500_000,
			"CCC": 900_000,
			"DDD": 80_000, // ADV $2M
			"EEE": 10_000, // ADV $80k, below liquidity floor
		},
	}

	b := NewBuilder(data, testConfig())
	u, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.False(t, u.Degraded)

	syms := make([]string, 0, len(u.Candidates))
	for _, c := range u.Candidates {
		syms = append(syms, c.Symbol)
	}
	// AAA and DDD tie on dollar volume; symbol ascending breaks the tie.
	assert.Equal(t, []string{"AAA", "DDD"}, syms)

	for _, c := range u.Candidates {
		assert.GreaterOrEqual(t, c.MarketCap, 50_000_000.0)
		assert.LessOrEqual(t, c.MarketCap, 2_000_000_000.0)
		assert.GreaterOrEqual(t, c.LastPrice, 2.0)
		assert.GreaterOrEqual(t, c.AvgDollarVolume, 250_000.0)
	}
}

func TestBuildNoDuplicatesAcrossETFs(t *testing.T) {
	data := &fakeData{
		holdings: map[string][]string{
			"IWM": {"AAA", "BBB"},
			"IWC": {"AAA", "BBB"},
		},
		funds: map[string]market.Fundamentals{
			"AAA": {Symbol: "AAA", MarketCap: 500_000_000},
			"BBB": {Symbol: "BBB", MarketCap: 600_000_000},
		},
		quotes:  map[string]float64{"AAA": 10, "BBB": 12},
		volumes: map[string]float64{"AAA": 200_000, "BBB": 200_000},
	}

	cfg := testConfig()
	cfg.ETFs = []string{"IWM", "IWC"}
	b := NewBuilder(data, cfg)

	u, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, u.Candidates, 2)
	assert.ElementsMatch(t, []string{"IWM", "IWC"}, u.Candidates[0].ETFTags)
}

func TestBuildFallsBackWhenExpansionFails(t *testing.T) {
	data := &fakeData{holdings: map[string][]string{}} // every ETF lookup fails

	cfg := testConfig()
	cfg.MinLiveSymbols = 5
	b := NewBuilder(data, cfg)

	u, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.True(t, u.Degraded, "snapshot runs must be flagged")
	require.NotEmpty(t, u.Candidates)

	for _, c := range u.Candidates {
		assert.True(t, c.FromFallback)
		assert.GreaterOrEqual(t, c.AvgDollarVolume, cfg.MinDollarVolume)
		assert.LessOrEqual(t, c.MarketCap, cfg.MaxMarketCap)
	}
	// Deterministic ordering holds on the fallback path too.
	for i := 1; i < len(u.Candidates); i++ {
		assert.GreaterOrEqual(t, u.Candidates[i-1].AvgDollarVolume, u.Candidates[i].AvgDollarVolume)
	}
}

func TestBuildDeterministicOrdering(t *testing.T) {
	data := &fakeData{
		holdings: map[string][]string{"IWM": {"AAA", "BBB", "CCC"}},
		funds: map[string]market.Fundamentals{
			"AAA": {MarketCap: 500_000_000},
			"BBB": {MarketCap: 500_000_000},
			"CCC": {MarketCap: 500_000_000},
		},
		quotes:  map[string]float64{"AAA": 10, "BBB": 10, "CCC": 10},
		volumes: map[string]float64{"AAA": 100_000, "BBB": 300_000, "CCC": 200_000},
	}
	b := NewBuilder(data, testConfig())

	var prev []string
	for i := 0; i < 5; i++ {
		u, err := b.Build(context.Background())
		require.NoError(t, err)
		syms := make([]string, 0, len(u.Candidates))
		for _, c := range u.Candidates {
			syms = append(syms, c.Symbol)
		}
		if prev != nil {
			assert.Equal(t, prev, syms, "ordering must not depend on goroutine timing")
		}
		prev = syms
	}
	assert.Equal(t, []string{"BBB", "CCC", "AAA"}, prev)
}

func TestSnapshotLoads(t *testing.T) {
	rows, err := loadSnapshot()
	require.NoError(t, err)
	assert.Greater(t, len(rows), 20)

	seen := map[string]bool{}
	for _, r := range rows {
		assert.False(t, seen[r.Symbol], "snapshot must not contain duplicates: %s", r.Symbol)
		seen[r.Symbol] = true
		assert.Greater(t, r.Price, 0.0)
	}
}

func TestScreenSymbolSkipsOnNoData(t *testing.T) {
	data := &fakeData{
		holdings: map[string][]string{"IWM": {"AAA"}},
		funds:    map[string]market.Fundamentals{},
	}
	b := NewBuilder(data, testConfig())

	_, ok := b.screenSymbol(context.Background(), "AAA")
	assert.False(t, ok, "NoDataAvailable means skip, never default")
}
