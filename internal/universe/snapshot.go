package universe

import (
	"embed"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

//go:embed fallback_universe.csv
var snapshotFS embed.FS

// snapshotRow is one line of the bundled static dataset. Values are a
// point-in-time capture and may be stale; degraded runs are flagged.
type snapshotRow struct {
	Symbol    string
	MarketCap float64
	Price     float64
	AvgVolume float64
}

func loadSnapshot() ([]snapshotRow, error) {
	f, err := snapshotFS.Open("fallback_universe.csv")
	if err != nil {
		return nil, fmt.Errorf("open fallback snapshot: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse fallback snapshot: %w", err)
	}

	rows := make([]snapshotRow, 0, len(records))
	for i, rec := range records {
		if i == 0 || len(rec) < 4 {
			continue // header
		}
		row := snapshotRow{Symbol: strings.ToUpper(strings.TrimSpace(rec[0]))}
		row.MarketCap, _ = strconv.ParseFloat(rec[1], 64)
		row.Price, _ = strconv.ParseFloat(rec[2], 64)
		row.AvgVolume, _ = strconv.ParseFloat(rec[3], 64)
		if row.Symbol != "" && row.Price > 0 {
			rows = append(rows, row)
		}
	}
	return rows, nil
}
