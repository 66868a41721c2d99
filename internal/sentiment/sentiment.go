// Package sentiment scores news flow per symbol. Scores are advisory
// inputs to the classifier; an unavailable source degrades to neutral
// and never fails a cycle.
package sentiment

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Source produces a sentiment score in [-1, 1] for a symbol.
type Source interface {
	Name() string
	Score(ctx context.Context, symbol string) (float64, error)
}

type cachedScore struct {
	value   float64
	fetched time.Time
}

// Engine caches source scores per symbol with a TTL. On a source error
// it reuses the last known value past its TTL, and falls back to
// neutral 0 when nothing was ever fetched.
type Engine struct {
	source Source
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]cachedScore

	now func() time.Time
}

// NewEngine wraps a source with TTL caching. A nil source is valid and
// always scores neutral.
func NewEngine(source Source, ttl time.Duration) *Engine {
	return &Engine{
		source: source,
		ttl:    ttl,
		cache:  make(map[string]cachedScore),
		now:    time.Now,
	}
}

// Score returns the cached or freshly fetched sentiment for symbol.
// Never returns an error: failures degrade to the stale value or 0.
func (e *Engine) Score(ctx context.Context, symbol string) float64 {
	if e.source == nil {
		return 0
	}

	e.mu.Lock()
	cached, ok := e.cache[symbol]
	e.mu.Unlock()

	if ok && e.now().Sub(cached.fetched) < e.ttl {
		return cached.value
	}

	value, err := e.source.Score(ctx, symbol)
	if err != nil {
		log.Warn().
			Str("source", e.source.Name()).
			Str("symbol", symbol).
			Err(err).
			Msg("sentiment fetch failed, using last known value")
		if ok {
			return cached.value
		}
		return 0
	}

	e.mu.Lock()
	e.cache[symbol] = cachedScore{value: value, fetched: e.now()}
	e.mu.Unlock()
	return value
}
