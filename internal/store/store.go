// Package store defines storage interfaces for persisting and retrieving
// price history, fundamental snapshots, and completed backtest runs.
package store

import (
	"context"
	"time"

	"meridian/internal/domain"
)

// PriceStore persists and retrieves daily closing price history.
type PriceStore interface {
	// WritePrices persists a batch of price points to storage.
	WritePrices(ctx context.Context, points []domain.PricePoint) error

	// ReadPrices returns price points for the given symbol within [start, end].
	ReadPrices(ctx context.Context, symbol string, start, end time.Time) ([]domain.PricePoint, error)

	// ListSymbols returns all distinct symbols with price data, sorted.
	ListSymbols(ctx context.Context) ([]string, error)
}

// FundamentalStore persists and retrieves fundamental snapshot records.
type FundamentalStore interface {
	// WriteSnapshots persists a batch of snapshots to storage.
	WriteSnapshots(ctx context.Context, snaps []domain.FundamentalSnapshot) error

	// ReadSnapshots returns snapshots for the given symbol with as-of dates
	// within [start, end], ordered by as-of date ascending.
	ReadSnapshots(ctx context.Context, symbol string, start, end time.Time) ([]domain.FundamentalSnapshot, error)

	// ListFundamentalSymbols returns all distinct symbols with snapshot data,
	// sorted.
	ListFundamentalSymbols(ctx context.Context) ([]string, error)
}

// RunStore persists completed backtest runs for later retrieval.
type RunStore interface {
	// SaveRun inserts a run record and returns its assigned ID.
	SaveRun(ctx context.Context, run *RunRecord) (int64, error)

	// GetRun retrieves a single run by its ID, including summary and
	// transaction rows.
	GetRun(ctx context.Context, id int64) (*RunRecord, error)

	// ListRuns returns headers for the most recent runs, up to limit.
	ListRuns(ctx context.Context, limit int) ([]RunHeader, error)
}

// RunHeader is the listing view of a saved run.
type RunHeader struct {
	ID        int64
	CreatedAt time.Time
	Name      string
	Strategy  string
}

// RunRecord is a completed backtest run in storable form. Config and
// Metrics are opaque JSON blobs owned by the engine; summary and
// transaction rows are flattened for tabular queries and CSV export.
type RunRecord struct {
	RunHeader
	ConfigJSON   string
	MetricsJSON  string
	Summary      []SummaryRow
	Transactions []TransactionRow
}

// SummaryRow is one rebalance-date row of a run's summary table.
type SummaryRow struct {
	Date       string
	TotalValue float64
	Cash       float64
	Return     float64 // return since start
	Excluded   int     // entities excluded for missing data on this date
}

// TransactionRow is one executed trade of a run.
type TransactionRow struct {
	Date      string
	Symbol    string
	Side      string
	Quantity  float64
	FillPrice float64
	Cost      float64
}
