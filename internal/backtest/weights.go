package backtest

import (
	"fmt"
	"math"
	"sort"

	"meridian/internal/domain"
	"meridian/internal/pit"
)

// SelectionRule decides which ranked picks enter the portfolio.
type SelectionRule string

const (
	TopN      SelectionRule = "top_n"
	Threshold SelectionRule = "threshold"
)

// ParseSelectionRule validates a selection rule string from configuration.
func ParseSelectionRule(s string) (SelectionRule, error) {
	switch SelectionRule(s) {
	case TopN, Threshold:
		return SelectionRule(s), nil
	}
	return "", fmt.Errorf("unknown selection rule %q", s)
}

// WeightScheme decides how portfolio weight is spread across selected picks.
type WeightScheme string

const (
	EqualWeight      WeightScheme = "equal"
	ScoreWeight      WeightScheme = "score"
	InverseVolWeight WeightScheme = "inverse_volatility"
	HintWeight       WeightScheme = "hint"
)

// ParseWeightScheme validates a weighting scheme string from configuration.
func ParseWeightScheme(s string) (WeightScheme, error) {
	switch WeightScheme(s) {
	case EqualWeight, ScoreWeight, InverseVolWeight, HintWeight:
		return WeightScheme(s), nil
	}
	return "", fmt.Errorf("unknown weighting scheme %q", s)
}

// TargetWeight is one symbol's share of portfolio value after a rebalance.
type TargetWeight struct {
	Symbol string
	Weight float64
}

// Select orders picks by score descending, breaking ties by symbol ascending
// for reproducibility, and applies the selection rule.
func Select(picks []domain.Pick, rule SelectionRule, topN int, threshold float64) []domain.Pick {
	sorted := make([]domain.Pick, len(picks))
	copy(sorted, picks)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})

	switch rule {
	case Threshold:
		var out []domain.Pick
		for _, p := range sorted {
			if p.Score >= threshold {
				out = append(out, p)
			}
		}
		return out
	default: // TopN
		if topN < len(sorted) {
			sorted = sorted[:topN]
		}
		return sorted
	}
}

// Weighter turns selected picks into capped target weights.
type Weighter struct {
	Scheme      WeightScheme
	MinWeight   float64 // 0 disables the floor
	MaxWeight   float64 // 0 disables the ceiling
	VolLookback int     // trading days for inverse-volatility estimation
}

// Weights computes target weights for the selected picks, then applies the
// per-position caps. The result is sorted by symbol and sums to at most 1.0;
// any residual is cash. Returns ErrWeightConvergence when the caps make the
// configuration infeasible.
func (w *Weighter) Weights(view *pit.AsOfView, picks []domain.Pick) ([]TargetWeight, error) {
	if len(picks) == 0 {
		return nil, nil
	}

	var ws []TargetWeight
	switch w.Scheme {
	case ScoreWeight:
		ws = scoreWeights(picks)
	case InverseVolWeight:
		ws = inverseVolWeights(view, picks, w.VolLookback)
	case HintWeight:
		ws = hintWeights(picks)
	default:
		ws = EqualWeights(picks)
	}

	sort.Slice(ws, func(i, j int) bool { return ws[i].Symbol < ws[j].Symbol })

	if err := applyCaps(ws, w.MinWeight, w.MaxWeight); err != nil {
		return nil, err
	}
	return ws, nil
}

// EqualWeights spreads the full portfolio evenly across the picks. It is
// also the engine's fallback when caps fail to converge.
func EqualWeights(picks []domain.Pick) []TargetWeight {
	ws := make([]TargetWeight, len(picks))
	for i, p := range picks {
		ws[i] = TargetWeight{Symbol: p.Symbol, Weight: 1 / float64(len(picks))}
	}
	return ws
}

// scoreWeights allocates proportionally to score. Proportions are undefined
// when any score is non-positive, so the scheme degrades to equal weight in
// that case.
func scoreWeights(picks []domain.Pick) []TargetWeight {
	sum := 0.0
	for _, p := range picks {
		if p.Score <= 0 {
			return EqualWeights(picks)
		}
		sum += p.Score
	}
	ws := make([]TargetWeight, len(picks))
	for i, p := range picks {
		ws[i] = TargetWeight{Symbol: p.Symbol, Weight: p.Score / sum}
	}
	return ws
}

// inverseVolWeights allocates proportionally to 1/volatility of trailing
// daily returns. A pick without enough history is assigned the mean
// volatility of the picks that have one; if none do, weights are equal.
func inverseVolWeights(view *pit.AsOfView, picks []domain.Pick, lookback int) []TargetWeight {
	vols := make([]float64, len(picks))
	var known []float64
	for i, p := range picks {
		if v, ok := trailingVolatility(view, p.Symbol, lookback); ok {
			vols[i] = v
			known = append(known, v)
		} else {
			vols[i] = math.NaN()
		}
	}
	if len(known) == 0 {
		return EqualWeights(picks)
	}

	mean := 0.0
	for _, v := range known {
		mean += v
	}
	mean /= float64(len(known))

	sum := 0.0
	inv := make([]float64, len(picks))
	for i := range picks {
		v := vols[i]
		if math.IsNaN(v) {
			v = mean
		}
		if v <= 0 {
			return EqualWeights(picks)
		}
		inv[i] = 1 / v
		sum += inv[i]
	}

	ws := make([]TargetWeight, len(picks))
	for i, p := range picks {
		ws[i] = TargetWeight{Symbol: p.Symbol, Weight: inv[i] / sum}
	}
	return ws
}

// trailingVolatility estimates daily-return standard deviation over the
// lookback window ending at the view's date.
func trailingVolatility(view *pit.AsOfView, symbol string, lookback int) (float64, bool) {
	series := view.TrailingPrices(symbol, lookback+1)
	if len(series) < lookback+1 {
		return 0, false
	}

	returns := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		if series[i-1].Close == 0 {
			return 0, false
		}
		returns = append(returns, series[i].Close/series[i-1].Close-1)
	}
	return stddev(returns), len(returns) >= 2
}

// hintWeights uses the strategy-provided target weight hints. A hint sum
// above 1.0 is scaled back to full investment; non-positive hints make the
// scheme meaningless and degrade to equal weight.
func hintWeights(picks []domain.Pick) []TargetWeight {
	sum := 0.0
	for _, p := range picks {
		if p.WeightHint < 0 {
			return EqualWeights(picks)
		}
		sum += p.WeightHint
	}
	if sum <= 0 {
		return EqualWeights(picks)
	}

	scale := 1.0
	if sum > 1 {
		scale = 1 / sum
	}
	ws := make([]TargetWeight, len(picks))
	for i, p := range picks {
		ws[i] = TargetWeight{Symbol: p.Symbol, Weight: p.WeightHint * scale}
	}
	return ws
}

const capEpsilon = 1e-9

// applyCaps clamps weights into [minW, maxW] and renormalizes the remaining
// budget across unclamped positions. Each pass fixes at least one weight at
// a cap, so the loop is bounded by the number of positions. Infeasible cap
// configurations fail with ErrWeightConvergence.
func applyCaps(ws []TargetWeight, minW, maxW float64) error {
	if len(ws) == 0 || (minW <= 0 && maxW <= 0) {
		return nil
	}
	n := float64(len(ws))
	budget := 0.0
	for _, w := range ws {
		budget += w.Weight
	}

	if minW > 0 && maxW > 0 && minW > maxW {
		return fmt.Errorf("min weight %g above max weight %g: %w", minW, maxW, ErrWeightConvergence)
	}
	if maxW > 0 && maxW*n < budget-capEpsilon {
		return fmt.Errorf("%d positions capped at %g cannot hold weight %g: %w",
			len(ws), maxW, budget, ErrWeightConvergence)
	}
	if minW > 0 && minW*n > 1+capEpsilon {
		return fmt.Errorf("%d positions floored at %g exceed full investment: %w",
			len(ws), minW, ErrWeightConvergence)
	}

	fixed := make([]bool, len(ws))
	for pass := 0; pass < len(ws); pass++ {
		changed := false
		fixedSum := 0.0
		freeSum := 0.0
		for i := range ws {
			if fixed[i] {
				fixedSum += ws[i].Weight
				continue
			}
			switch {
			case maxW > 0 && ws[i].Weight > maxW+capEpsilon:
				ws[i].Weight = maxW
				fixed[i] = true
				changed = true
				fixedSum += maxW
			case minW > 0 && ws[i].Weight < minW-capEpsilon:
				ws[i].Weight = minW
				fixed[i] = true
				changed = true
				fixedSum += minW
			default:
				freeSum += ws[i].Weight
			}
		}
		if !changed {
			break
		}
		remaining := budget - fixedSum
		if remaining < 0 {
			remaining = 0
		}
		if freeSum > 0 {
			scale := remaining / freeSum
			for i := range ws {
				if !fixed[i] {
					ws[i].Weight *= scale
				}
			}
		}
	}

	total := 0.0
	for _, w := range ws {
		if maxW > 0 && w.Weight > maxW+capEpsilon {
			return fmt.Errorf("weight %g for %s exceeds cap %g after renormalization: %w",
				w.Weight, w.Symbol, maxW, ErrWeightConvergence)
		}
		if minW > 0 && w.Weight < minW-capEpsilon {
			return fmt.Errorf("weight %g for %s below floor %g after renormalization: %w",
				w.Weight, w.Symbol, minW, ErrWeightConvergence)
		}
		total += w.Weight
	}
	if total > 1+capEpsilon {
		return fmt.Errorf("weights sum to %g: %w", total, ErrWeightConvergence)
	}
	return nil
}
