package backtest

import (
	"math"
	"testing"

	"meridian/internal/domain"
)

func snapshotSeries(values ...float64) []domain.LedgerSnapshot {
	snaps := make([]domain.LedgerSnapshot, len(values))
	for i, v := range values {
		snaps[i] = domain.LedgerSnapshot{
			Date:       date(2020, 1, 1).AddDate(0, 3*i, 0),
			TotalValue: v,
		}
	}
	return snaps
}

func TestMetricsTotalReturnAndCAGR(t *testing.T) {
	// One year, 10000 -> 11000.
	snaps := snapshotSeries(10000, 10200, 10500, 10800, 11000)
	m := ComputeMetrics(snaps, nil, 4, 0)

	if math.Abs(m.TotalReturn-0.1) > 1e-9 {
		t.Errorf("TotalReturn = %v, want 0.1", m.TotalReturn)
	}
	years := snaps[4].Date.Sub(snaps[0].Date).Hours() / 24 / 365.25
	wantCAGR := math.Pow(1.1, 1/years) - 1
	if math.Abs(m.CAGR-wantCAGR) > 1e-9 {
		t.Errorf("CAGR = %v, want %v", m.CAGR, wantCAGR)
	}
}

func TestMetricsZeroVolatilitySharpeIsNaN(t *testing.T) {
	// A perfectly flat value series has zero volatility: Sharpe is
	// undefined, not zero.
	m := ComputeMetrics(snapshotSeries(10000, 10000, 10000, 10000), nil, 4, 0.02)

	if m.Volatility != 0 {
		t.Errorf("Volatility = %v, want 0", m.Volatility)
	}
	if !math.IsNaN(m.Sharpe) {
		t.Errorf("Sharpe = %v, want NaN", m.Sharpe)
	}
}

func TestMetricsMaxDrawdown(t *testing.T) {
	// Peak 12000, trough 9000: drawdown 25%.
	m := ComputeMetrics(snapshotSeries(10000, 12000, 9000, 11000), nil, 4, 0)

	if math.Abs(m.MaxDrawdown-0.25) > 1e-9 {
		t.Errorf("MaxDrawdown = %v, want 0.25", m.MaxDrawdown)
	}
}

func TestMetricsWinRate(t *testing.T) {
	d := date(2020, 1, 2)
	trades := []domain.Trade{
		// Round trip 1: A bought for 1001, sold for 1099 -> win.
		{Date: d, Symbol: "A", Side: domain.SideBuy, Quantity: 10, FillPrice: 100, Cost: 1},
		{Date: d.AddDate(0, 3, 0), Symbol: "A", Side: domain.SideSell, Quantity: 10, FillPrice: 110, Cost: 1},
		// Round trip 2: B bought for 501, sold for 449 -> loss.
		{Date: d, Symbol: "B", Side: domain.SideBuy, Quantity: 10, FillPrice: 50, Cost: 1},
		{Date: d.AddDate(0, 3, 0), Symbol: "B", Side: domain.SideSell, Quantity: 10, FillPrice: 45, Cost: 1},
		// C is still open: not a round trip.
		{Date: d, Symbol: "C", Side: domain.SideBuy, Quantity: 10, FillPrice: 20, Cost: 1},
	}

	m := ComputeMetrics(snapshotSeries(10000, 10100), trades, 4, 0)
	if m.RoundTrips != 2 {
		t.Fatalf("RoundTrips = %d, want 2", m.RoundTrips)
	}
	if math.Abs(m.WinRate-0.5) > 1e-9 {
		t.Errorf("WinRate = %v, want 0.5", m.WinRate)
	}
}

func TestMetricsNoRoundTripsWinRateIsNaN(t *testing.T) {
	m := ComputeMetrics(snapshotSeries(10000, 10100), nil, 4, 0)
	if !math.IsNaN(m.WinRate) {
		t.Errorf("WinRate = %v, want NaN with no closed round trips", m.WinRate)
	}
}

func TestMetricsTurnover(t *testing.T) {
	// One year of snapshots averaging 10000, with 5000 notional traded.
	snaps := snapshotSeries(10000, 10000, 10000, 10000, 10000)
	trades := []domain.Trade{
		{Date: date(2020, 1, 1), Symbol: "A", Side: domain.SideBuy, Quantity: 50, FillPrice: 100},
	}
	m := ComputeMetrics(snaps, trades, 4, 0)

	years := snaps[4].Date.Sub(snaps[0].Date).Hours() / 24 / 365.25
	want := 5000.0 / 10000.0 / years
	if math.Abs(m.Turnover-want) > 1e-9 {
		t.Errorf("Turnover = %v, want %v", m.Turnover, want)
	}
}

func TestMetricsEmptySeries(t *testing.T) {
	m := ComputeMetrics(nil, nil, 4, 0)
	if !math.IsNaN(m.TotalReturn) || !math.IsNaN(m.Sharpe) {
		t.Error("metrics over an empty series must be NaN, not zero")
	}
}

func TestMetricsMarshalJSONHandlesNaN(t *testing.T) {
	m := ComputeMetrics(nil, nil, 4, 0)
	data, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty JSON")
	}
}
