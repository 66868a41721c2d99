package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// RouterConfig tunes failover and caching behavior.
type RouterConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout"`
	QuoteTTL    time.Duration `yaml:"quote_ttl"`
	BarTTL      time.Duration `yaml:"bar_ttl"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// DefaultRouterConfig returns standard router tuning.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CallTimeout: 10 * time.Second,
		QuoteTTL:    30 * time.Second,
		BarTTL:      5 * time.Minute,
		Breaker:     DefaultBreakerConfig(),
	}
}

// Observer receives router events for metrics. Outcome is one of
// "success", "failure", "circuit_skip", "cache_hit", "exhausted".
type Observer func(provider, op, outcome string)

// Router tries providers in priority order, tracking health per provider
// and skipping open circuits. Responses are cached per (op, symbol,
// interval) with a short TTL.
type Router struct {
	providers []Provider
	breakers  map[string]*Breaker
	limiter   *RateLimiter
	cache     Cache
	config    RouterConfig
	observe   Observer
}

// NewRouter creates a router over the given priority-ordered providers.
func NewRouter(providers []Provider, cache Cache, limiter *RateLimiter, config RouterConfig) *Router {
	if len(providers) == 0 {
		panic("market: router needs at least one provider")
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	if limiter == nil {
		limiter = NewRateLimiter(5, 10)
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 10 * time.Second
	}
	breakers := make(map[string]*Breaker, len(providers))
	for _, p := range providers {
		breakers[p.Name()] = NewBreaker(config.Breaker)
	}
	return &Router{
		providers: providers,
		breakers:  breakers,
		limiter:   limiter,
		cache:     cache,
		config:    config,
		observe:   func(string, string, string) {},
	}
}

// SetObserver installs a metrics callback.
func (r *Router) SetObserver(fn Observer) {
	if fn != nil {
		r.observe = fn
	}
}

// GetQuote returns the latest price for symbol, or ErrNoData when every
// provider is unavailable or returned nothing usable.
func (r *Router) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	key := "quote:" + symbol
	if cached, ok := r.cached(ctx, key); ok {
		var q Quote
		if json.Unmarshal(cached, &q) == nil {
			r.observe("cache", "quote", "cache_hit")
			return q, nil
		}
	}
	q, err := failover(r, ctx, "quote", symbol,
		func(q Quote) bool { return q.Price > 0 },
		func(ctx context.Context, p Provider) (Quote, error) {
			q, err := p.GetQuote(ctx, symbol)
			q.Source = p.Name()
			return q, err
		})
	if err != nil {
		return Quote{}, err
	}
	r.store(ctx, key, q, r.config.QuoteTTL)
	return q, nil
}

// GetBars returns up to limit OHLCV aggregates for symbol, oldest first.
func (r *Router) GetBars(ctx context.Context, symbol, interval string, limit int) ([]Bar, error) {
	key := fmt.Sprintf("bars:%s:%s:%d", symbol, interval, limit)
	if cached, ok := r.cached(ctx, key); ok {
		var bars []Bar
		if json.Unmarshal(cached, &bars) == nil && len(bars) > 0 {
			r.observe("cache", "bars", "cache_hit")
			return bars, nil
		}
	}
	bars, err := failover(r, ctx, "bars", symbol,
		func(bars []Bar) bool { return len(bars) > 0 },
		func(ctx context.Context, p Provider) ([]Bar, error) {
			return p.GetBars(ctx, symbol, interval, limit)
		})
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, bars, r.config.BarTTL)
	return bars, nil
}

// GetFundamentals returns reference data for symbol.
func (r *Router) GetFundamentals(ctx context.Context, symbol string) (Fundamentals, error) {
	key := "fund:" + symbol
	if cached, ok := r.cached(ctx, key); ok {
		var f Fundamentals
		if json.Unmarshal(cached, &f) == nil && f.MarketCap > 0 {
			r.observe("cache", "fundamentals", "cache_hit")
			return f, nil
		}
	}
	f, err := failover(r, ctx, "fundamentals", symbol,
		func(f Fundamentals) bool { return f.MarketCap > 0 },
		func(ctx context.Context, p Provider) (Fundamentals, error) {
			f, err := p.GetFundamentals(ctx, symbol)
			f.Source = p.Name()
			return f, err
		})
	if err != nil {
		return Fundamentals{}, err
	}
	r.store(ctx, key, f, r.config.BarTTL)
	return f, nil
}

// GetETFHoldings returns the constituent symbols of an ETF.
func (r *Router) GetETFHoldings(ctx context.Context, etf string) ([]string, error) {
	key := "holdings:" + etf
	if cached, ok := r.cached(ctx, key); ok {
		var syms []string
		if json.Unmarshal(cached, &syms) == nil && len(syms) > 0 {
			r.observe("cache", "holdings", "cache_hit")
			return syms, nil
		}
	}
	syms, err := failover(r, ctx, "holdings", etf,
		func(syms []string) bool { return len(syms) > 0 },
		func(ctx context.Context, p Provider) ([]string, error) {
			return p.GetETFHoldings(ctx, etf)
		})
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, syms, r.config.BarTTL)
	return syms, nil
}

// Health returns one record per provider in priority order.
func (r *Router) Health() []Health {
	records := make([]Health, 0, len(r.providers))
	for _, p := range r.providers {
		records = append(records, r.breakers[p.Name()].Snapshot(p.Name()))
	}
	return records
}

// ResetCircuits closes every provider circuit. Admin action only.
func (r *Router) ResetCircuits() {
	for _, b := range r.breakers {
		b.Reset()
	}
}

func (r *Router) cached(ctx context.Context, key string) ([]byte, bool) {
	return r.cache.Get(ctx, key)
}

func (r *Router) store(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	r.cache.Set(ctx, key, data, ttl)
}

// failover walks the provider list in priority order. An error, timeout
// or invalid payload counts as one failure against that provider; an
// ErrUnsupported response moves on without penalty.
func failover[T any](r *Router, ctx context.Context, op, symbol string, valid func(T) bool, call func(context.Context, Provider) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for _, p := range r.providers {
		name := p.Name()
		breaker := r.breakers[name]

		if !breaker.Allow() {
			r.observe(name, op, "circuit_skip")
			lastErr = &ProviderError{Provider: name, Op: op, Symbol: symbol, Err: ErrCircuitOpen}
			continue
		}

		if err := r.limiter.Wait(ctx, name); err != nil {
			return zero, fmt.Errorf("rate limit wait: %w", err)
		}

		callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
		result, err := call(callCtx, p)
		cancel()

		if err == nil && valid(result) {
			breaker.RecordSuccess()
			r.observe(name, op, "success")
			return result, nil
		}

		if err != nil && errors.Is(err, ErrUnsupported) {
			continue
		}
		if err == nil {
			err = fmt.Errorf("empty or malformed payload")
		}

		breaker.RecordFailure()
		r.observe(name, op, "failure")
		lastErr = &ProviderError{Provider: name, Op: op, Symbol: symbol, Err: err}
		log.Warn().Str("provider", name).Str("op", op).Str("symbol", symbol).Err(err).Msg("provider call failed")
	}

	r.observe("router", op, "exhausted")
	return zero, fmt.Errorf("%w: %s %s (last: %v)", ErrNoData, op, symbol, lastErr)
}
