package builtins

import (
	"context"

	"meridian/internal/domain"
	"meridian/internal/pit"
	"meridian/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Ranker = (*FundamentalField)(nil)

// FundamentalField ranks symbols by a single named field of their most
// recent available fundamental snapshot. Symbols with no qualifying snapshot,
// or whose snapshot lacks the field, are omitted.
type FundamentalField struct {
	field      string
	maxAgeDays int
}

// NewFundamentalField creates a ranker scoring on the given snapshot field.
// maxAgeDays caps snapshot staleness; 0 disables the cap.
func NewFundamentalField(field string, maxAgeDays int) *FundamentalField {
	return &FundamentalField{field: field, maxAgeDays: maxAgeDays}
}

// Name returns "fundamental-" followed by the field name.
func (f *FundamentalField) Name() string {
	return "fundamental-" + f.field
}

// Rank scores each symbol by the field value of its latest snapshot
// available on the view's date.
func (f *FundamentalField) Rank(_ context.Context, view *pit.AsOfView, universe []string) ([]domain.Pick, error) {
	var picks []domain.Pick
	for _, sym := range universe {
		snap, err := view.Snapshot(sym, f.maxAgeDays)
		if err != nil {
			continue
		}
		val, ok := snap.Fields[f.field]
		if !ok {
			continue
		}
		picks = append(picks, domain.Pick{
			Symbol: sym,
			Score:  val,
		})
	}
	return picks, nil
}
