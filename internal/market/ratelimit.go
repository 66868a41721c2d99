package market

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter enforces per-provider request budgets with a shared token
// bucket per provider name.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewRateLimiter creates a limiter pool with the given default budget.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *RateLimiter) limiter(provider string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[provider]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[provider]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[provider] = lim
	return lim
}

// Wait blocks until the provider's bucket grants a token or ctx ends.
func (l *RateLimiter) Wait(ctx context.Context, provider string) error {
	return l.limiter(provider).Wait(ctx)
}

// SetBudget overrides the budget for one provider.
func (l *RateLimiter) SetBudget(provider string, rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[provider] = rate.NewLimiter(rate.Limit(rps), burst)
}
