package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"barsim/pkg/types"
)

// csv column layout: timestamp,open,high,low,close,volume
const csvColumns = 6

// LoadCSV reads OHLCV bars for a pair from a CSV file. Timestamps are
// RFC 3339. A header row is skipped when the first field does not parse
// as a timestamp.
func LoadCSV(path string, pair types.Pair) (*BarSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars file: %w", err)
	}
	defer f.Close()

	bars, err := parseCSV(f, pair)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewBarSource(bars)
}

func parseCSV(r io.Reader, pair types.Pair) ([]types.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = csvColumns

	var bars []types.Bar
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		when, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			if line == 1 {
				continue // header row
			}
			return nil, fmt.Errorf("line %d: timestamp: %w", line, err)
		}

		bar := types.Bar{Pair: pair, When: when}
		for i, target := range []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume} {
			value, err := decimal.NewFromString(record[i+1])
			if err != nil {
				return nil, fmt.Errorf("line %d: column %d: %w", line, i+2, err)
			}
			*target = value
		}
		bars = append(bars, bar)
	}
	return bars, nil
}
