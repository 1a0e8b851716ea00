package domain

import (
	"testing"
	"time"
)

func TestDay(t *testing.T) {
	loc := time.FixedZone("ET", -5*3600)
	ts := time.Date(2024, 6, 15, 18, 30, 12, 999, loc)

	// 18:30 ET is 23:30 UTC, still June 15 in UTC.
	got := Day(ts)
	want := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Day(%v) = %v, want %v", ts, got, want)
	}
	if got.Location() != time.UTC {
		t.Errorf("Day returned location %v, want UTC", got.Location())
	}
}

func TestSnapshotAvailableOn(t *testing.T) {
	snap := FundamentalSnapshot{
		Symbol:   "AAPL",
		AsOfDate: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		Fields:   map[string]float64{"roe": 0.31},
	}

	got := snap.AvailableOn(60)
	want := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("AvailableOn(60) = %v, want %v", got, want)
	}

	// Zero lag: available on the as-of date itself.
	if got := snap.AvailableOn(0); !got.Equal(snap.AsOfDate) {
		t.Errorf("AvailableOn(0) = %v, want %v", got, snap.AsOfDate)
	}
}

func TestTradeNotional(t *testing.T) {
	tr := Trade{
		Date:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Symbol:    "MSFT",
		Side:      SideBuy,
		Quantity:  12.5,
		FillPrice: 400.0,
		Cost:      5.0,
	}
	if got := tr.Notional(); got != 5000.0 {
		t.Errorf("Notional() = %v, want 5000", got)
	}
}
