// Package archive writes fetched bar history to parquet files, one file
// per symbol per cycle, for offline model training and backtests.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/sawpanic/microrun/internal/market"
)

// Row is the parquet schema for one bar.
type Row struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"t"`
	Open      float64 `parquet:"o"`
	High      float64 `parquet:"h"`
	Low       float64 `parquet:"l"`
	Close     float64 `parquet:"c"`
	Volume    float64 `parquet:"v"`
}

// Writer archives bars under dir/<day>/<symbol>.parquet.
type Writer struct {
	dir string
}

// NewWriter creates an archive rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// WriteBars archives one symbol's bars. Overwrites the same day's file,
// so re-running a cycle is idempotent.
func (w *Writer) WriteBars(symbol string, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	day := time.Now().UTC().Format("2006-01-02")
	dir := filepath.Join(w.dir, day)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive dir: %w", err)
	}

	rows := make([]Row, len(bars))
	for i, b := range bars {
		rows[i] = Row{
			Symbol:    symbol,
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}

	path := filepath.Join(dir, symbol+".parquet")
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
