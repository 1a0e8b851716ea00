package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"meridian/internal/domain"
)

// Compile-time interface check.
var _ PriceStore = (*ParquetStore)(nil)

// ParquetStore implements PriceStore using Parquet files on disk, one file
// per symbol and year.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// PriceRecord is the Parquet schema for daily closing price data.
type PriceRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms, midnight UTC
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// EquityRecord is the Parquet schema for one point of a run's equity curve.
type EquityRecord struct {
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms, midnight UTC
	TotalValue float64 `parquet:"total_value"`
	Cash       float64 `parquet:"cash"`
	Return     float64 `parquet:"return"`
	Excluded   int32   `parquet:"excluded"`
}

// ---------------------------------------------------------------------------
// PriceStore implementation
// ---------------------------------------------------------------------------

// WritePrices writes price points to Parquet files organized by symbol and
// year. Each symbol+year combination produces a separate file at:
//
//	<DataDir>/us/daily/<SYMBOL>/<YYYY>.parquet
//
// Existing records are merged and deduplicated by (symbol, date), with
// incoming records winning.
func (s *ParquetStore) WritePrices(_ context.Context, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	// Group by symbol → year.
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]PriceRecord)
	for _, p := range points {
		d := domain.Day(p.Date)
		k := key{symbol: strings.ToUpper(p.Symbol), year: d.Year()}
		groups[k] = append(groups[k], PriceRecord{
			Symbol:    strings.ToUpper(p.Symbol),
			Timestamp: d.UnixMilli(),
			Close:     p.Close,
			Volume:    p.Volume,
		})
	}

	for k, records := range groups {
		path := s.pricePath(k.symbol, k.year)

		// Read existing records to merge.
		existing, _ := readParquetFile[PriceRecord](path)
		merged := mergePriceRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing prices for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadPrices reads price points from Parquet files for the given symbol and
// date range.
func (s *ParquetStore) ReadPrices(_ context.Context, symbol string, start, end time.Time) ([]domain.PricePoint, error) {
	start = domain.Day(start)
	end = domain.Day(end)

	var points []domain.PricePoint
	for year := start.Year(); year <= end.Year(); year++ {
		path := s.pricePath(strings.ToUpper(symbol), year)

		records, err := readParquetFile[PriceRecord](path)
		if err != nil {
			// File doesn't exist for this year — skip.
			continue
		}

		for _, r := range records {
			d := domain.Day(time.UnixMilli(r.Timestamp))
			if !d.Before(start) && !d.After(end) {
				points = append(points, domain.PricePoint{
					Symbol: r.Symbol,
					Date:   d,
					Close:  r.Close,
					Volume: r.Volume,
				})
			}
		}
	}
	return points, nil
}

// ListSymbols lists all symbols that have price data.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, "us", "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// WriteEquityCurve writes a run's summary rows as a Parquet equity curve at
// the given path. Rows with unparseable dates are skipped.
func WriteEquityCurve(path string, rows []SummaryRow) error {
	records := make([]EquityRecord, 0, len(rows))
	for _, row := range rows {
		d, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			continue
		}
		records = append(records, EquityRecord{
			Timestamp:  domain.Day(d).UnixMilli(),
			TotalValue: row.TotalValue,
			Cash:       row.Cash,
			Return:     row.Return,
			Excluded:   int32(row.Excluded),
		})
	}
	return writeParquetFile(path, records)
}

// ---------------------------------------------------------------------------
// Path and file helpers
// ---------------------------------------------------------------------------

// pricePath returns the filesystem path for a price Parquet file.
// Layout: <dataDir>/us/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) pricePath(symbol string, year int) string {
	return filepath.Join(s.DataDir, "us", "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergePriceRecords deduplicates price records by (symbol, timestamp),
// preferring new records over existing ones. Results are sorted by timestamp.
func mergePriceRecords(existing, incoming []PriceRecord) []PriceRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]PriceRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]PriceRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
