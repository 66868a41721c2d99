package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/microrun/internal/market"
)

func TestWriteBarsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	ts := time.Date(2026, 8, 28, 20, 0, 0, 0, time.UTC)
	bars := []market.Bar{
		{Timestamp: ts, Open: 10, High: 10.5, Low: 9.8, Close: 10.2, Volume: 120000},
		{Timestamp: ts.AddDate(0, 0, 1), Open: 10.2, High: 10.9, Low: 10.1, Close: 10.8, Volume: 150000},
	}
	require.NoError(t, w.WriteBars("ABCD", bars))

	day := time.Now().UTC().Format("2006-01-02")
	path := filepath.Join(dir, day, "ABCD.parquet")
	_, err := os.Stat(path)
	require.NoError(t, err)

	rows, err := parquet.ReadFile[Row](path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ABCD", rows[0].Symbol)
	assert.Equal(t, ts.UnixMilli(), rows[0].Timestamp)
	assert.Equal(t, 10.8, rows[1].Close)
}

func TestWriteBarsEmptyIsNoop(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	require.NoError(t, w.WriteBars("ABCD", nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
