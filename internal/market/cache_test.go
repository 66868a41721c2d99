package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheTTL(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	ctx := context.Background()
	c.Set(ctx, "quote:ABC", []byte(`{"price":1}`), 30*time.Second)

	got, ok := c.Get(ctx, "quote:ABC")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"price":1}`), got)

	now = now.Add(31 * time.Second)
	_, ok = c.Get(ctx, "quote:ABC")
	assert.False(t, ok, "entry past TTL must be evicted")
}

func TestMemoryCacheMissAndZeroTTL(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	_, ok := c.Get(ctx, "absent")
	assert.False(t, ok)

	c.Set(ctx, "k", []byte("v"), 0)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "zero TTL entries are not stored")
}
