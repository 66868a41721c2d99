package sentiment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	score float64
	err   error
	calls int
}

func (s *stubSource) Name() string { return "stub" }
func (s *stubSource) Score(context.Context, string) (float64, error) {
	s.calls++
	return s.score, s.err
}

func TestEngineCachesWithinTTL(t *testing.T) {
	src := &stubSource{score: 0.4}
	e := NewEngine(src, 30*time.Minute)

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	assert.Equal(t, 0.4, e.Score(context.Background(), "ABCD"))
	assert.Equal(t, 0.4, e.Score(context.Background(), "ABCD"))
	assert.Equal(t, 1, src.calls)

	now = now.Add(31 * time.Minute)
	assert.Equal(t, 0.4, e.Score(context.Background(), "ABCD"))
	assert.Equal(t, 2, src.calls)
}

func TestEngineReusesStaleValueOnError(t *testing.T) {
	src := &stubSource{score: 0.6}
	e := NewEngine(src, time.Minute)

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	assert.Equal(t, 0.6, e.Score(context.Background(), "ABCD"))

	now = now.Add(2 * time.Minute)
	src.err = errors.New("rate limited")
	assert.Equal(t, 0.6, e.Score(context.Background(), "ABCD"),
		"stale value beats neutral when the source is down")
}

func TestEngineNeutralWhenNeverFetched(t *testing.T) {
	src := &stubSource{err: errors.New("down")}
	e := NewEngine(src, time.Minute)
	assert.Equal(t, 0.0, e.Score(context.Background(), "ABCD"))
}

func TestEngineNilSourceIsNeutral(t *testing.T) {
	e := NewEngine(nil, time.Minute)
	assert.Equal(t, 0.0, e.Score(context.Background(), "ABCD"))
}

func TestFinnhubScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ABCD", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.URL.Query().Get("token"))
		w.Write([]byte(`{
			"sentiment": {"bullishPercent": 0.7, "bearishPercent": 0.2},
			"buzz": {"articlesInLastWeek": 12}
		}`))
	}))
	defer srv.Close()

	f := NewFinnhub("test-key")
	f.baseURL = srv.URL

	got, err := f.Score(context.Background(), "ABCD")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestFinnhubNoCoverageIsNeutral(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"sentiment": {"bullishPercent": 0, "bearishPercent": 0}, "buzz": {"articlesInLastWeek": 0}}`))
	}))
	defer srv.Close()

	f := NewFinnhub("test-key")
	f.baseURL = srv.URL

	got, err := f.Score(context.Background(), "NOBUZ")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}

func TestFinnhubErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "limit reached", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewFinnhub("test-key")
	f.baseURL = srv.URL

	_, err := f.Score(context.Background(), "ABCD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
