// Package builtins provides built-in ranker implementations that ship with
// the meridian platform.
package builtins

import (
	"context"

	"meridian/internal/domain"
	"meridian/internal/pit"
	"meridian/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Ranker = (*Momentum)(nil)

// Momentum ranks symbols by trailing price return over a lookback window of
// trading days. Symbols without a full window of history are omitted.
type Momentum struct {
	lookbackDays int
}

// NewMomentum creates a momentum ranker with the given lookback window in
// trading days.
func NewMomentum(lookbackDays int) *Momentum {
	return &Momentum{lookbackDays: lookbackDays}
}

// Name returns "momentum".
func (m *Momentum) Name() string {
	return "momentum"
}

// Rank scores each symbol by its return over the lookback window ending on
// the view's date.
func (m *Momentum) Rank(_ context.Context, view *pit.AsOfView, universe []string) ([]domain.Pick, error) {
	var picks []domain.Pick
	for _, sym := range universe {
		series := view.TrailingPrices(sym, m.lookbackDays+1)
		if len(series) < m.lookbackDays+1 {
			continue
		}
		first, last := series[0].Close, series[len(series)-1].Close
		if first == 0 {
			continue
		}
		picks = append(picks, domain.Pick{
			Symbol: sym,
			Score:  last/first - 1,
		})
	}
	return picks, nil
}
