package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 3,
		OpenCooldown:     30 * time.Second,
		MaxCooldown:      2 * time.Minute,
	})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, CircuitClosed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, CircuitOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b, _ := newTestBreaker(t)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	b, now := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	require.Equal(t, CircuitOpen, b.State())

	// Still inside the cooldown window.
	*now = now.Add(10 * time.Second)
	assert.False(t, b.Allow())

	// Past the window: the next call is a trial.
	*now = now.Add(25 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, CircuitHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, CircuitClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerFailedTrialDoublesCooldown(t *testing.T) {
	b, now := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	*now = now.Add(31 * time.Second)
	require.True(t, b.Allow()) // half-open trial

	b.RecordFailure()
	require.Equal(t, CircuitOpen, b.State())

	// Cooldown doubled to 60s: 45s in it must still reject.
	*now = now.Add(45 * time.Second)
	assert.False(t, b.Allow())
	*now = now.Add(20 * time.Second)
	assert.True(t, b.Allow())

	// Another failed trial: cooldown doubles again to 120s (MaxCooldown).
	b.RecordFailure()
	require.Equal(t, CircuitOpen, b.State())
	*now = now.Add(119 * time.Second)
	assert.False(t, b.Allow())
	*now = now.Add(2 * time.Second)
	require.True(t, b.Allow())

	// A further failed trial stays bounded at 120s.
	b.RecordFailure()
	*now = now.Add(119 * time.Second)
	assert.False(t, b.Allow())
	*now = now.Add(2 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreakerSnapshotCounters(t *testing.T) {
	b, _ := newTestBreaker(t)
	b.RecordFailure()
	b.RecordFailure()

	h := b.Snapshot("twelvedata")
	assert.Equal(t, "twelvedata", h.Provider)
	assert.Equal(t, int64(2), h.Failures)
	assert.Equal(t, 2, h.Consecutive)
	assert.Equal(t, "closed", h.Circuit)
}
