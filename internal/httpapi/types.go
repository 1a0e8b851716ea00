// Package httpapi provides the HTTP REST API for launching backtest runs
// and retrieving their results in JSON and CSV form.
package httpapi

import (
	"encoding/json"
	"time"

	"meridian/internal/backtest"
	"meridian/internal/store"
)

// BacktestRequest is the body of POST /api/v1/backtests.
type BacktestRequest struct {
	Name     string `json:"name"`
	Strategy string `json:"strategy"`

	StartDate      string   `json:"startDate"` // YYYY-MM-DD
	EndDate        string   `json:"endDate"`
	InitialCapital float64  `json:"initialCapital"`
	Universe       []string `json:"universe"`
	Frequency      string   `json:"frequency"`

	SelectionRule string  `json:"selectionRule"`
	TopN          int     `json:"topN,omitempty"`
	Threshold     float64 `json:"threshold,omitempty"`

	WeightScheme string  `json:"weightScheme"`
	MinWeight    float64 `json:"minWeight,omitempty"`
	MaxWeight    float64 `json:"maxWeight,omitempty"`
	VolLookback  int     `json:"volLookback,omitempty"`

	CommissionRate float64 `json:"commissionRate"`
	SlippageRate   float64 `json:"slippageRate"`

	FilingLagDays      int     `json:"filingLagDays,omitempty"`
	MaxSnapshotAgeDays int     `json:"maxSnapshotAgeDays,omitempty"`
	RiskFreeRate       float64 `json:"riskFreeRate,omitempty"`
}

// SummaryRowJSON is one rebalance date of a run.
type SummaryRowJSON struct {
	Date       string  `json:"date"`
	TotalValue float64 `json:"totalValue"`
	Cash       float64 `json:"cash"`
	Return     float64 `json:"return"`
	Excluded   int     `json:"excluded"`
}

// TransactionJSON is one executed trade of a run.
type TransactionJSON struct {
	Date      string  `json:"date"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Quantity  float64 `json:"quantity"`
	FillPrice float64 `json:"fillPrice"`
	Cost      float64 `json:"cost"`
}

// RunResponse is the full result of a completed run.
type RunResponse struct {
	ID           int64             `json:"id"`
	CreatedAt    time.Time         `json:"createdAt"`
	Name         string            `json:"name"`
	Strategy     string            `json:"strategy"`
	State        string            `json:"state"`
	Metrics      json.RawMessage   `json:"metrics,omitempty"`
	Summary      []SummaryRowJSON  `json:"summary,omitempty"`
	Transactions []TransactionJSON `json:"transactions,omitempty"`
}

// AbortedResponse reports a run that did not complete.
type AbortedResponse struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

// RunHeaderJSON is the listing view of a saved run.
type RunHeaderJSON struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Name      string    `json:"name"`
	Strategy  string    `json:"strategy"`
}

// RunListResponse lists saved runs, newest first.
type RunListResponse struct {
	Runs []RunHeaderJSON `json:"runs"`
}

// StrategiesResponse lists registered ranker names.
type StrategiesResponse struct {
	Strategies []string `json:"strategies"`
}

func convertRun(run *store.RunRecord) RunResponse {
	resp := RunResponse{
		ID:        run.ID,
		CreatedAt: run.CreatedAt,
		Name:      run.Name,
		Strategy:  run.Strategy,
		State:     backtest.StateCompleted.String(),
		Metrics:   json.RawMessage(run.MetricsJSON),
	}
	for _, row := range run.Summary {
		resp.Summary = append(resp.Summary, SummaryRowJSON{
			Date:       row.Date,
			TotalValue: row.TotalValue,
			Cash:       row.Cash,
			Return:     row.Return,
			Excluded:   row.Excluded,
		})
	}
	for _, t := range run.Transactions {
		resp.Transactions = append(resp.Transactions, TransactionJSON{
			Date:      t.Date,
			Symbol:    t.Symbol,
			Side:      t.Side,
			Quantity:  t.Quantity,
			FillPrice: t.FillPrice,
			Cost:      t.Cost,
		})
	}
	return resp
}
