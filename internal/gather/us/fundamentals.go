package us

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"meridian/internal/domain"
	"meridian/internal/gather"
	"meridian/internal/store"
)

// Compile-time interface check.
var _ gather.Gatherer = (*FundamentalsImporter)(nil)

// FundamentalsImporter loads fundamental snapshots from a long-format CSV
// (symbol, as_of, field, value) into the fundamental store. Vendors export
// one row per field; the importer groups rows into per-period snapshots.
type FundamentalsImporter struct {
	reader io.Reader
	store  store.FundamentalStore
	log    *slog.Logger
}

// NewFundamentalsImporter creates an importer reading from r into s.
func NewFundamentalsImporter(r io.Reader, s store.FundamentalStore) *FundamentalsImporter {
	return &FundamentalsImporter{
		reader: r,
		store:  s,
		log:    slog.Default().With("gatherer", "fundamentals-import"),
	}
}

// Name returns the gatherer identifier.
func (g *FundamentalsImporter) Name() string { return "fundamentals-import" }

// Run parses the CSV and writes the snapshots in one batch.
func (g *FundamentalsImporter) Run(ctx context.Context) error {
	snaps, err := ParseFundamentalsCSV(g.reader)
	if err != nil {
		return err
	}
	if err := g.store.WriteSnapshots(ctx, snaps); err != nil {
		return fmt.Errorf("writing snapshots: %w", err)
	}
	g.log.Info("imported fundamentals", "snapshots", len(snaps))
	return nil
}

// ParseFundamentalsCSV parses long-format rows "symbol,as_of,field,value"
// (header required) into snapshots grouped by (symbol, as-of date). A
// duplicate field within one period keeps the last row. Results are ordered
// by symbol, then as-of date.
func ParseFundamentalsCSV(r io.Reader) ([]domain.FundamentalSnapshot, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if !strings.EqualFold(header[0], "symbol") || !strings.EqualFold(header[1], "as_of") {
		return nil, fmt.Errorf("unexpected header %v, want symbol,as_of,field,value", header)
	}

	type key struct {
		symbol string
		asOf   time.Time
	}
	groups := make(map[key]map[string]float64)

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		symbol := strings.ToUpper(strings.TrimSpace(rec[0]))
		if symbol == "" {
			return nil, fmt.Errorf("line %d: empty symbol", line)
		}
		asOf, err := time.Parse("2006-01-02", strings.TrimSpace(rec[1]))
		if err != nil {
			return nil, fmt.Errorf("line %d: parsing as_of %q: %w", line, rec[1], err)
		}
		field := strings.TrimSpace(rec[2])
		if field == "" {
			return nil, fmt.Errorf("line %d: empty field name", line)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(rec[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parsing value %q: %w", line, rec[3], err)
		}

		k := key{symbol: symbol, asOf: domain.Day(asOf)}
		if groups[k] == nil {
			groups[k] = make(map[string]float64)
		}
		groups[k][field] = value
	}

	snaps := make([]domain.FundamentalSnapshot, 0, len(groups))
	for k, fields := range groups {
		snaps = append(snaps, domain.FundamentalSnapshot{
			Symbol:   k.symbol,
			AsOfDate: k.asOf,
			Fields:   fields,
		})
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].Symbol != snaps[j].Symbol {
			return snaps[i].Symbol < snaps[j].Symbol
		}
		return snaps[i].AsOfDate.Before(snaps[j].AsOfDate)
	})
	return snaps, nil
}
