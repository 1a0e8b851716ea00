// Package pit provides the point-in-time data view consumed by backtests.
// A View holds preloaded price and fundamental history; an AsOfView pins a
// simulation date and only answers with facts that were knowable on that
// date, accounting for the filing lag. A View is immutable once loading is
// finished and safe to share read-only across concurrent runs.
package pit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"meridian/internal/domain"
	"meridian/internal/store"
)

// ErrDataUnavailable signals that no fact exists for the requested symbol
// and date. It is a recoverable, per-symbol condition: callers exclude the
// symbol from that date's universe rather than treating the value as zero.
var ErrDataUnavailable = errors.New("data unavailable")

// View holds price and fundamental history for a set of symbols. Prices are
// date-exact facts; fundamental snapshots become visible only once their
// availability date (as-of date plus filing lag) has passed.
type View struct {
	filingLagDays int

	prices map[string][]domain.PricePoint          // sorted by date asc, one per date
	snaps  map[string][]domain.FundamentalSnapshot // sorted by as-of asc, one per as-of
}

// NewView creates an empty View with the given filing lag in days.
func NewView(filingLagDays int) *View {
	return &View{
		filingLagDays: filingLagDays,
		prices:        make(map[string][]domain.PricePoint),
		snaps:         make(map[string][]domain.FundamentalSnapshot),
	}
}

// AddPrices inserts price points, normalizing dates to midnight UTC,
// deduplicating by (symbol, date) with the last write winning, and keeping
// each symbol's series sorted by date.
func (v *View) AddPrices(points []domain.PricePoint) {
	bySymbol := make(map[string]map[time.Time]domain.PricePoint)
	for sym, series := range v.prices {
		m := make(map[time.Time]domain.PricePoint, len(series))
		for _, p := range series {
			m[p.Date] = p
		}
		bySymbol[sym] = m
	}
	for _, p := range points {
		p.Date = domain.Day(p.Date)
		m, ok := bySymbol[p.Symbol]
		if !ok {
			m = make(map[time.Time]domain.PricePoint)
			bySymbol[p.Symbol] = m
		}
		m[p.Date] = p
	}

	for sym, m := range bySymbol {
		series := make([]domain.PricePoint, 0, len(m))
		for _, p := range m {
			series = append(series, p)
		}
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
		v.prices[sym] = series
	}
}

// AddSnapshots inserts fundamental snapshots, deduplicating by (symbol,
// as-of date) with the last write winning, and keeping each symbol's series
// sorted by as-of date.
func (v *View) AddSnapshots(snaps []domain.FundamentalSnapshot) {
	bySymbol := make(map[string]map[time.Time]domain.FundamentalSnapshot)
	for sym, series := range v.snaps {
		m := make(map[time.Time]domain.FundamentalSnapshot, len(series))
		for _, s := range series {
			m[s.AsOfDate] = s
		}
		bySymbol[sym] = m
	}
	for _, s := range snaps {
		s.AsOfDate = domain.Day(s.AsOfDate)
		m, ok := bySymbol[s.Symbol]
		if !ok {
			m = make(map[time.Time]domain.FundamentalSnapshot)
			bySymbol[s.Symbol] = m
		}
		m[s.AsOfDate] = s
	}

	for sym, m := range bySymbol {
		series := make([]domain.FundamentalSnapshot, 0, len(m))
		for _, s := range m {
			series = append(series, s)
		}
		sort.Slice(series, func(i, j int) bool { return series[i].AsOfDate.Before(series[j].AsOfDate) })
		v.snaps[sym] = series
	}
}

// Symbols returns the sorted set of symbols with any price data.
func (v *View) Symbols() []string {
	symbols := make([]string, 0, len(v.prices))
	for sym := range v.prices {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// At returns a view restricted to facts knowable on the given date.
func (v *View) At(date time.Time) *AsOfView {
	return &AsOfView{view: v, date: domain.Day(date)}
}

// Load populates a View from the given stores for the requested symbols.
// Price history is loaded from lookbackStart (earlier than the run start,
// so trailing windows have data) through end; fundamentals are loaded from
// the beginning of time so availability filtering happens per date, not at
// load time. A nil fundamentals store is allowed for price-only runs.
func Load(
	ctx context.Context,
	prices store.PriceStore,
	fundamentals store.FundamentalStore,
	symbols []string,
	lookbackStart, end time.Time,
	filingLagDays int,
) (*View, error) {
	v := NewView(filingLagDays)

	for _, sym := range symbols {
		pts, err := prices.ReadPrices(ctx, sym, lookbackStart, end)
		if err != nil {
			return nil, fmt.Errorf("loading prices for %s: %w", sym, err)
		}
		v.AddPrices(pts)

		if fundamentals != nil {
			snaps, err := fundamentals.ReadSnapshots(ctx, sym, time.Time{}, end)
			if err != nil {
				return nil, fmt.Errorf("loading fundamentals for %s: %w", sym, err)
			}
			v.AddSnapshots(snaps)
		}
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// AsOfView
// ---------------------------------------------------------------------------

// AsOfView answers queries as they would have been answered on one
// simulation date. It is the only data surface handed to strategies, which
// makes look-ahead structurally impossible: every accessor filters by the
// pinned date.
type AsOfView struct {
	view *View
	date time.Time
}

// Date returns the pinned simulation date.
func (a *AsOfView) Date() time.Time {
	return a.date
}

// Price returns the price point with the exact pinned date, or
// ErrDataUnavailable if the symbol did not trade that day. There is no
// forward- or backward-filling: a missing price means the symbol is out of
// that date's universe, not that its return is zero.
func (a *AsOfView) Price(symbol string) (domain.PricePoint, error) {
	series := a.view.prices[symbol]
	i := sort.Search(len(series), func(i int) bool { return !series[i].Date.Before(a.date) })
	if i < len(series) && series[i].Date.Equal(a.date) {
		return series[i], nil
	}
	return domain.PricePoint{}, fmt.Errorf("price %s@%s: %w", symbol, a.date.Format("2006-01-02"), ErrDataUnavailable)
}

// TrailingPrices returns up to n price points with dates strictly at or
// before the pinned date, oldest first. Used for momentum and volatility
// windows.
func (a *AsOfView) TrailingPrices(symbol string, n int) []domain.PricePoint {
	series := a.view.prices[symbol]
	// First index with date > pinned date.
	end := sort.Search(len(series), func(i int) bool { return series[i].Date.After(a.date) })
	start := end - n
	if start < 0 {
		start = 0
	}
	out := make([]domain.PricePoint, end-start)
	copy(out, series[start:end])
	return out
}

// Snapshot returns the most recent fundamental snapshot for the symbol that
// was publicly available on the pinned date and whose as-of date is no
// older than maxAgeDays (0 disables the age check). Returns
// ErrDataUnavailable when no snapshot qualifies.
func (a *AsOfView) Snapshot(symbol string, maxAgeDays int) (domain.FundamentalSnapshot, error) {
	series := a.view.snaps[symbol]
	lag := a.view.filingLagDays

	for i := len(series) - 1; i >= 0; i-- {
		s := series[i]
		if s.AvailableOn(lag).After(a.date) {
			continue // not yet public on this date
		}
		if maxAgeDays > 0 && s.AsOfDate.Before(a.date.AddDate(0, 0, -maxAgeDays)) {
			break // series is sorted: everything earlier is older still
		}
		return s, nil
	}
	return domain.FundamentalSnapshot{}, fmt.Errorf("snapshot %s@%s: %w", symbol, a.date.Format("2006-01-02"), ErrDataUnavailable)
}

// Snapshots returns, for every symbol with a qualifying snapshot, the most
// recent snapshot available on the pinned date (see Snapshot). Symbols with
// no qualifying snapshot are absent from the result, never defaulted.
func (a *AsOfView) Snapshots(maxAgeDays int) map[string]domain.FundamentalSnapshot {
	out := make(map[string]domain.FundamentalSnapshot)
	for sym := range a.view.snaps {
		if s, err := a.Snapshot(sym, maxAgeDays); err == nil {
			out[sym] = s
		}
	}
	return out
}
