package backtest

import (
	"encoding/json"
	"math"

	"meridian/internal/domain"
)

// Metrics summarizes the risk and return of a completed run. Every ratio
// whose denominator is zero is NaN, never zero: a zero would be a claim
// about performance, NaN says the statistic is undefined.
type Metrics struct {
	TotalReturn   float64
	CAGR          float64
	Volatility    float64 // annualized stdev of period returns
	Sharpe        float64
	MaxDrawdown   float64 // positive fraction, largest peak-to-trough decline
	Turnover      float64 // annualized traded notional over average value
	WinRate       float64 // fraction of closed round trips with positive PnL
	RoundTrips    int
	RebalanceDays int
}

// ComputeMetrics derives performance statistics from the ordered snapshot
// sequence and the trade log of one run.
func ComputeMetrics(snapshots []domain.LedgerSnapshot, trades []domain.Trade, periodsPerYear, riskFreeRate float64) Metrics {
	m := Metrics{
		TotalReturn: math.NaN(),
		CAGR:        math.NaN(),
		Volatility:  math.NaN(),
		Sharpe:      math.NaN(),
		MaxDrawdown: math.NaN(),
		Turnover:    math.NaN(),
		WinRate:     math.NaN(),
	}
	m.RebalanceDays = len(snapshots)
	if len(snapshots) == 0 {
		return m
	}

	initial := snapshots[0].TotalValue
	final := snapshots[len(snapshots)-1].TotalValue
	if initial > 0 {
		m.TotalReturn = final/initial - 1
	}

	years := snapshots[len(snapshots)-1].Date.Sub(snapshots[0].Date).Hours() / 24 / 365.25
	if years > 0 && initial > 0 && final > 0 {
		m.CAGR = math.Pow(final/initial, 1/years) - 1
	}

	// Period returns between consecutive snapshots.
	var returns []float64
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].TotalValue
		if prev > 0 {
			returns = append(returns, snapshots[i].TotalValue/prev-1)
		}
	}
	if len(returns) >= 2 {
		m.Volatility = stddev(returns) * math.Sqrt(periodsPerYear)
	}
	if !math.IsNaN(m.Volatility) && m.Volatility > 0 && !math.IsNaN(m.CAGR) {
		m.Sharpe = (m.CAGR - riskFreeRate) / m.Volatility
	}

	m.MaxDrawdown = maxDrawdown(snapshots)

	// Turnover: total traded notional over average value, annualized.
	if years > 0 {
		notional := 0.0
		for _, t := range trades {
			notional += t.Notional()
		}
		avg := 0.0
		for _, s := range snapshots {
			avg += s.TotalValue
		}
		avg /= float64(len(snapshots))
		if avg > 0 {
			m.Turnover = notional / avg / years
		}
	}

	m.WinRate, m.RoundTrips = winRate(trades)
	return m
}

func maxDrawdown(snapshots []domain.LedgerSnapshot) float64 {
	if len(snapshots) == 0 {
		return math.NaN()
	}
	peak := snapshots[0].TotalValue
	worst := 0.0
	for _, s := range snapshots {
		if s.TotalValue > peak {
			peak = s.TotalValue
		}
		if peak > 0 {
			dd := (peak - s.TotalValue) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// winRate replays the trade log per symbol, tracking cost basis the same way
// the ledger does. Each time a position is sold down to zero, one round trip
// closes; it wins if cumulative proceeds exceeded cumulative cost. Positions
// still open at the end of the run are not counted. NaN when no round trip
// closed.
func winRate(trades []domain.Trade) (rate float64, roundTrips int) {
	type lot struct {
		quantity float64
		cost     float64 // remaining basis
		realized float64 // realized PnL of the open round trip
	}
	open := make(map[string]*lot)
	wins := 0

	for _, t := range trades {
		l := open[t.Symbol]
		if l == nil {
			l = &lot{}
			open[t.Symbol] = l
		}
		switch t.Side {
		case domain.SideBuy:
			l.quantity += t.Quantity
			l.cost += t.Notional() + t.Cost
		case domain.SideSell:
			if l.quantity <= 0 {
				continue
			}
			fraction := t.Quantity / l.quantity
			if fraction > 1 {
				fraction = 1
			}
			basis := l.cost * fraction
			l.realized += (t.Notional() - t.Cost) - basis
			l.cost -= basis
			l.quantity -= t.Quantity
			if l.quantity <= positionEpsilon {
				roundTrips++
				if l.realized > 0 {
					wins++
				}
				delete(open, t.Symbol)
			}
		}
	}

	if roundTrips == 0 {
		return math.NaN(), 0
	}
	return float64(wins) / float64(roundTrips), roundTrips
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// MarshalJSON encodes NaN and infinite ratios as null, which encoding/json
// otherwise rejects.
func (m Metrics) MarshalJSON() ([]byte, error) {
	num := func(f float64) any {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	}
	return json.Marshal(map[string]any{
		"total_return":   num(m.TotalReturn),
		"cagr":           num(m.CAGR),
		"volatility":     num(m.Volatility),
		"sharpe":         num(m.Sharpe),
		"max_drawdown":   num(m.MaxDrawdown),
		"turnover":       num(m.Turnover),
		"win_rate":       num(m.WinRate),
		"round_trips":    m.RoundTrips,
		"rebalance_days": m.RebalanceDays,
	})
}
