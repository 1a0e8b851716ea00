package backtest

import (
	"errors"
	"math"
	"testing"

	"meridian/internal/domain"
	"meridian/internal/pit"
)

func TestSelectTopNTieBreak(t *testing.T) {
	picks := []domain.Pick{
		{Symbol: "ZED", Score: 0.5},
		{Symbol: "APE", Score: 0.5},
		{Symbol: "TOP", Score: 0.9},
		{Symbol: "LOW", Score: 0.1},
	}

	got := Select(picks, TopN, 2, 0)
	if len(got) != 2 {
		t.Fatalf("selected %d, want 2", len(got))
	}
	if got[0].Symbol != "TOP" {
		t.Errorf("first pick = %s, want TOP", got[0].Symbol)
	}
	// Equal scores at the boundary: ascending symbol order wins the slot.
	if got[1].Symbol != "APE" {
		t.Errorf("boundary pick = %s, want APE (lexical tie-break)", got[1].Symbol)
	}
}

func TestSelectThreshold(t *testing.T) {
	picks := []domain.Pick{
		{Symbol: "A", Score: 0.9},
		{Symbol: "B", Score: 0.5},
		{Symbol: "C", Score: 0.1},
	}

	got := Select(picks, Threshold, 0, 0.5)
	if len(got) != 2 {
		t.Fatalf("selected %d, want 2 (score >= threshold)", len(got))
	}
	if got[0].Symbol != "A" || got[1].Symbol != "B" {
		t.Errorf("selection = %v", got)
	}
}

func TestEqualWeights(t *testing.T) {
	w := &Weighter{Scheme: EqualWeight}
	ws, err := w.Weights(nil, []domain.Pick{{Symbol: "B"}, {Symbol: "A"}})
	if err != nil {
		t.Fatalf("Weights: %v", err)
	}
	if len(ws) != 2 || ws[0].Symbol != "A" || ws[1].Symbol != "B" {
		t.Fatalf("weights not sorted by symbol: %v", ws)
	}
	if ws[0].Weight != 0.5 || ws[1].Weight != 0.5 {
		t.Errorf("weights = %v, want 0.5 each", ws)
	}
}

func TestScoreWeights(t *testing.T) {
	w := &Weighter{Scheme: ScoreWeight}
	ws, err := w.Weights(nil, []domain.Pick{
		{Symbol: "A", Score: 3},
		{Symbol: "B", Score: 1},
	})
	if err != nil {
		t.Fatalf("Weights: %v", err)
	}
	if math.Abs(ws[0].Weight-0.75) > 1e-12 || math.Abs(ws[1].Weight-0.25) > 1e-12 {
		t.Errorf("weights = %v, want [0.75 0.25]", ws)
	}

	// A non-positive score makes proportions meaningless: equal fallback.
	ws, err = w.Weights(nil, []domain.Pick{
		{Symbol: "A", Score: 3},
		{Symbol: "B", Score: -1},
	})
	if err != nil {
		t.Fatalf("Weights: %v", err)
	}
	if ws[0].Weight != 0.5 || ws[1].Weight != 0.5 {
		t.Errorf("weights = %v, want equal fallback", ws)
	}
}

func TestInverseVolWeights(t *testing.T) {
	v := pit.NewView(0)
	var points []domain.PricePoint
	base := date(2024, 1, 1)
	for i := 0; i <= 20; i++ {
		d := base.AddDate(0, 0, i)
		// CALM alternates ±1%, WILD alternates ±10%.
		calm, wild := 100.0, 100.0
		if i%2 == 1 {
			calm, wild = 101.0, 110.0
		}
		points = append(points,
			domain.PricePoint{Symbol: "CALM", Date: d, Close: calm},
			domain.PricePoint{Symbol: "WILD", Date: d, Close: wild},
		)
	}
	v.AddPrices(points)

	w := &Weighter{Scheme: InverseVolWeight, VolLookback: 20}
	ws, err := w.Weights(v.At(base.AddDate(0, 0, 20)), []domain.Pick{
		{Symbol: "CALM"}, {Symbol: "WILD"},
	})
	if err != nil {
		t.Fatalf("Weights: %v", err)
	}
	if ws[0].Symbol != "CALM" || ws[0].Weight <= ws[1].Weight {
		t.Errorf("low-volatility symbol should carry more weight: %v", ws)
	}
	if math.Abs(ws[0].Weight+ws[1].Weight-1) > 1e-9 {
		t.Errorf("weights sum to %v, want 1", ws[0].Weight+ws[1].Weight)
	}
}

func TestInverseVolWeightsMissingHistory(t *testing.T) {
	v := pit.NewView(0)
	// No price history at all: scheme degrades to equal weight.
	w := &Weighter{Scheme: InverseVolWeight, VolLookback: 20}
	ws, err := w.Weights(v.At(date(2024, 6, 3)), []domain.Pick{
		{Symbol: "A"}, {Symbol: "B"},
	})
	if err != nil {
		t.Fatalf("Weights: %v", err)
	}
	if ws[0].Weight != 0.5 || ws[1].Weight != 0.5 {
		t.Errorf("weights = %v, want equal fallback", ws)
	}
}

func TestHintWeights(t *testing.T) {
	w := &Weighter{Scheme: HintWeight}
	ws, err := w.Weights(nil, []domain.Pick{
		{Symbol: "A", WeightHint: 0.9},
		{Symbol: "B", WeightHint: 0.6},
	})
	if err != nil {
		t.Fatalf("Weights: %v", err)
	}
	// Hints sum to 1.5: scaled back to full investment.
	if math.Abs(ws[0].Weight-0.6) > 1e-12 || math.Abs(ws[1].Weight-0.4) > 1e-12 {
		t.Errorf("weights = %v, want [0.6 0.4]", ws)
	}
}

func TestCapConvergence(t *testing.T) {
	// Feasible caps: max_cap * N >= 1. The loop must land on weights
	// summing to <= 1 with none above the cap.
	w := &Weighter{Scheme: ScoreWeight, MaxWeight: 0.3}
	ws, err := w.Weights(nil, []domain.Pick{
		{Symbol: "A", Score: 10},
		{Symbol: "B", Score: 1},
		{Symbol: "C", Score: 1},
		{Symbol: "D", Score: 1},
	})
	if err != nil {
		t.Fatalf("Weights: %v", err)
	}

	sum := 0.0
	for _, tw := range ws {
		if tw.Weight > 0.3+1e-9 {
			t.Errorf("weight %v for %s exceeds cap", tw.Weight, tw.Symbol)
		}
		sum += tw.Weight
	}
	if sum > 1+1e-9 {
		t.Errorf("weights sum to %v", sum)
	}
	if ws[0].Weight < 0.3-1e-9 {
		t.Errorf("dominant symbol not at cap: %v", ws[0].Weight)
	}
}

func TestCapInfeasible(t *testing.T) {
	// Two positions capped at 0.2 cannot hold full investment.
	w := &Weighter{Scheme: EqualWeight, MaxWeight: 0.2}
	_, err := w.Weights(nil, []domain.Pick{{Symbol: "A"}, {Symbol: "B"}})
	if !errors.Is(err, ErrWeightConvergence) {
		t.Errorf("err = %v, want ErrWeightConvergence", err)
	}

	// Floors exceeding full investment are equally infeasible.
	w = &Weighter{Scheme: EqualWeight, MinWeight: 0.6}
	_, err = w.Weights(nil, []domain.Pick{{Symbol: "A"}, {Symbol: "B"}})
	if !errors.Is(err, ErrWeightConvergence) {
		t.Errorf("err = %v, want ErrWeightConvergence", err)
	}
}

func TestMinWeightFloor(t *testing.T) {
	w := &Weighter{Scheme: ScoreWeight, MinWeight: 0.1}
	ws, err := w.Weights(nil, []domain.Pick{
		{Symbol: "A", Score: 99},
		{Symbol: "B", Score: 1},
	})
	if err != nil {
		t.Fatalf("Weights: %v", err)
	}
	for _, tw := range ws {
		if tw.Weight < 0.1-1e-9 {
			t.Errorf("weight %v for %s below floor", tw.Weight, tw.Symbol)
		}
	}
}
