// Package universe builds the filtered candidate list for a cycle by
// expanding ETF membership and screening each symbol against market-cap,
// price and liquidity bounds.
package universe

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/microrun/internal/market"
)

// MarketData is the slice of the provider router the builder needs.
type MarketData interface {
	GetETFHoldings(ctx context.Context, etf string) ([]string, error)
	GetFundamentals(ctx context.Context, symbol string) (market.Fundamentals, error)
	GetQuote(ctx context.Context, symbol string) (market.Quote, error)
	GetBars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error)
}

// Candidate is a symbol that passed all universe filters for this cycle.
type Candidate struct {
	Symbol          string   `json:"symbol"`
	LastPrice       float64  `json:"last_price"`
	MarketCap       float64  `json:"market_cap"`
	FloatShares     float64  `json:"float_shares,omitempty"`
	AvgDollarVolume float64  `json:"avg_dollar_volume"`
	ETFTags         []string `json:"etf_tags,omitempty"`
	FromFallback    bool     `json:"from_fallback,omitempty"`
}

// Universe is the output of one build. Degraded marks runs that used the
// bundled snapshot instead of live expansion.
type Universe struct {
	Candidates []Candidate `json:"candidates"`
	Degraded   bool        `json:"degraded"`
	BuiltAt    time.Time   `json:"built_at"`
}

// Config bounds the filter. Defaults follow the small-cap profile.
type Config struct {
	ETFs            []string `yaml:"etfs"`
	MinMarketCap    float64  `yaml:"min_market_cap"`
	MaxMarketCap    float64  `yaml:"max_market_cap"`
	MinPrice        float64  `yaml:"min_price"`
	MaxPrice        float64  `yaml:"max_price"`
	MinDollarVolume float64  `yaml:"min_dollar_volume"`
	MinLiveSymbols  int      `yaml:"min_live_symbols"`
	MaxSymbols      int      `yaml:"max_symbols"`
	MaxConcurrent   int      `yaml:"max_concurrent"`
}

// Builder produces the candidate list each cycle.
type Builder struct {
	data   MarketData
	config Config
}

// NewBuilder creates a universe builder over the given data source.
func NewBuilder(data MarketData, config Config) *Builder {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 8
	}
	if config.MinLiveSymbols <= 0 {
		config.MinLiveSymbols = 20
	}
	return &Builder{data: data, config: config}
}

// Build expands the configured ETFs, screens every member and returns
// the filtered candidates in deterministic order (descending dollar
// volume, symbol ascending on ties). Falls back to the bundled snapshot
// when live expansion yields too few symbols.
func (b *Builder) Build(ctx context.Context) (Universe, error) {
	tags := b.expand(ctx)

	if len(tags) < b.config.MinLiveSymbols {
		log.Warn().Int("live_symbols", len(tags)).Int("min", b.config.MinLiveSymbols).
			Msg("ETF expansion too thin, using fallback snapshot")
		return b.fromSnapshot()
	}

	candidates := b.screen(ctx, tags)
	if len(candidates) == 0 {
		log.Warn().Msg("live screening produced no candidates, using fallback snapshot")
		return b.fromSnapshot()
	}

	sortCandidates(candidates)
	if b.config.MaxSymbols > 0 && len(candidates) > b.config.MaxSymbols {
		candidates = candidates[:b.config.MaxSymbols]
	}
	return Universe{Candidates: candidates, BuiltAt: time.Now().UTC()}, nil
}

// expand collects the deduplicated ETF membership superset. Each ETF is
// independently skippable: a failed holdings lookup only loses that ETF.
func (b *Builder) expand(ctx context.Context) map[string][]string {
	tags := make(map[string][]string)
	for _, etf := range b.config.ETFs {
		holdings, err := b.data.GetETFHoldings(ctx, etf)
		if err != nil {
			log.Warn().Str("etf", etf).Err(err).Msg("holdings lookup failed, skipping ETF")
			continue
		}
		for _, sym := range holdings {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" || !isPlainTicker(sym) {
				continue
			}
			tags[sym] = append(tags[sym], etf)
		}
	}
	return tags
}

// screen filters the superset concurrently with a bounded worker pool.
// Symbols with no data are skipped, never defaulted.
func (b *Builder) screen(ctx context.Context, tags map[string][]string) []Candidate {
	symbols := make([]string, 0, len(tags))
	for sym := range tags {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		candidates []Candidate
	)
	sem := make(chan struct{}, b.config.MaxConcurrent)

	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			c, ok := b.screenSymbol(ctx, sym)
			if !ok {
				return
			}
			c.ETFTags = tags[sym]
			mu.Lock()
			candidates = append(candidates, c)
			mu.Unlock()
		}(sym)
	}
	wg.Wait()
	return candidates
}

func (b *Builder) screenSymbol(ctx context.Context, sym string) (Candidate, bool) {
	fund, err := b.data.GetFundamentals(ctx, sym)
	if err != nil {
		if !errors.Is(err, market.ErrNoData) {
			log.Warn().Str("symbol", sym).Err(err).Msg("fundamentals unavailable")
		}
		return Candidate{}, false
	}
	quote, err := b.data.GetQuote(ctx, sym)
	if err != nil {
		return Candidate{}, false
	}
	bars, err := b.data.GetBars(ctx, sym, "1day", 30)
	if err != nil || len(bars) == 0 {
		return Candidate{}, false
	}

	adv := avgDollarVolume(bars, 20)
	c := Candidate{
		Symbol:          sym,
		LastPrice:       quote.Price,
		MarketCap:       fund.MarketCap,
		FloatShares:     fund.FloatShares,
		AvgDollarVolume: adv,
	}
	if !b.passes(c) {
		return Candidate{}, false
	}
	return c, true
}

func (b *Builder) passes(c Candidate) bool {
	if c.MarketCap < b.config.MinMarketCap || c.MarketCap > b.config.MaxMarketCap {
		return false
	}
	if c.LastPrice < b.config.MinPrice || c.LastPrice > b.config.MaxPrice {
		return false
	}
	return c.AvgDollarVolume >= b.config.MinDollarVolume
}

// fromSnapshot screens the bundled static dataset with the same bounds
// and flags the run as degraded.
func (b *Builder) fromSnapshot() (Universe, error) {
	rows, err := loadSnapshot()
	if err != nil {
		return Universe{}, err
	}

	candidates := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		c := Candidate{
			Symbol:          row.Symbol,
			LastPrice:       row.Price,
			MarketCap:       row.MarketCap,
			AvgDollarVolume: row.Price * row.AvgVolume,
			FromFallback:    true,
		}
		if b.passes(c) {
			candidates = append(candidates, c)
		}
	}
	sortCandidates(candidates)
	if b.config.MaxSymbols > 0 && len(candidates) > b.config.MaxSymbols {
		candidates = candidates[:b.config.MaxSymbols]
	}
	return Universe{Candidates: candidates, Degraded: true, BuiltAt: time.Now().UTC()}, nil
}

func sortCandidates(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].AvgDollarVolume != candidates[j].AvgDollarVolume {
			return candidates[i].AvgDollarVolume > candidates[j].AvgDollarVolume
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})
}

func avgDollarVolume(bars []market.Bar, window int) float64 {
	if len(bars) == 0 {
		return 0
	}
	if len(bars) > window {
		bars = bars[len(bars)-window:]
	}
	var sum float64
	for _, bar := range bars {
		sum += bar.Close * bar.Volume
	}
	return sum / float64(len(bars))
}

func isPlainTicker(sym string) bool {
	for _, r := range sym {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return len(sym) > 0 && len(sym) <= 6
}
