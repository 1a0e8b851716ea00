// Package domain defines the core value types shared across the meridian
// platform: price history, fundamental snapshots, portfolio positions,
// executed trades, and ledger snapshots.
package domain

import (
	"time"
)

// Side identifies the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Day normalizes a timestamp to midnight UTC. All dates flowing through the
// backtest engine are day-granular; normalizing once at the boundary keeps
// map keys and comparisons consistent.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PricePoint is a single daily closing price observation for a symbol.
// Prices are append-only historical facts: for a given symbol there is at
// most one PricePoint per date, and recorded points are never revised.
type PricePoint struct {
	Symbol string
	Date   time.Time // trading date, midnight UTC
	Close  float64
	Volume int64
}

// FundamentalSnapshot is an immutable point-in-time fact record, e.g. one
// quarterly filing. AsOfDate is the period the facts describe; the date the
// facts became publicly knowable is derived via AvailableOn and is never
// stored or mutated.
type FundamentalSnapshot struct {
	Symbol   string
	AsOfDate time.Time
	Fields   map[string]float64
}

// AvailableOn returns the first date on which this snapshot was publicly
// available, given a filing lag in days.
func (s FundamentalSnapshot) AvailableOn(filingLagDays int) time.Time {
	return Day(s.AsOfDate).AddDate(0, 0, filingLagDays)
}

// Position is an open long holding in one symbol. CostBasis is the total
// cash outlay (including friction) for the open quantity. A Position is
// owned exclusively by one ledger and is removed when its quantity reaches
// zero.
type Position struct {
	Symbol    string
	Quantity  float64
	CostBasis float64
}

// Trade is an executed fill. It is immutable once recorded: the engine
// creates it, the ledger applies it, and the performance analyzer consumes
// it.
type Trade struct {
	Date      time.Time
	Symbol    string
	Side      Side
	Quantity  float64
	FillPrice float64
	Cost      float64 // commission charged on the fill
}

// Notional returns the fill quantity times the fill price, excluding cost.
func (t Trade) Notional() float64 {
	return t.Quantity * t.FillPrice
}

// LedgerSnapshot captures portfolio state at one valuation date. The
// snapshot sequence produced by a run is append-only and is the sole input
// to performance analysis.
type LedgerSnapshot struct {
	Date       time.Time
	Cash       float64
	Positions  map[string]Position
	TotalValue float64
}

// Pick is one ranked candidate produced by a strategy for a single
// rebalance date. WeightHint is an optional target weight suggestion; zero
// means no hint. Picks are consumed once and never retained by the engine
// beyond that date's decision.
type Pick struct {
	Symbol     string
	Score      float64
	WeightHint float64
}
