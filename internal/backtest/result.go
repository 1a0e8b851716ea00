package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"meridian/internal/domain"
	"meridian/internal/store"
)

// SummaryRow is one rebalance date of a run: portfolio value, cash, return
// since start, and the number of universe symbols excluded for missing data.
type SummaryRow struct {
	Date       time.Time
	TotalValue float64
	Cash       float64
	Return     float64
	Excluded   int
}

// Exclusion records one symbol dropped from one date's universe, with the
// reason. The exclusion log makes coverage gaps auditable instead of being a
// log-only side effect.
type Exclusion struct {
	Date   time.Time
	Symbol string
	Reason string
}

// Result is the complete outcome of one run. A completed run carries the
// full summary, trade log, and metrics even when individual dates had
// exclusions; an aborted run carries the reason and the last committed
// snapshot for forensic inspection.
type Result struct {
	State        State
	Reason       string // set when State is StateAborted
	Summary      []SummaryRow
	Transactions []domain.Trade
	Snapshots    []domain.LedgerSnapshot
	Exclusions   []Exclusion
	Metrics      Metrics
	LastSnapshot *domain.LedgerSnapshot
}

const csvDateLayout = "2006-01-02"

// WriteSummaryCSV writes the per-rebalance summary table as CSV.
func (r *Result) WriteSummaryCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "total_value", "cash", "return", "excluded"}); err != nil {
		return err
	}
	for _, row := range r.Summary {
		rec := []string{
			row.Date.Format(csvDateLayout),
			fmt.Sprintf("%.2f", row.TotalValue),
			fmt.Sprintf("%.2f", row.Cash),
			fmt.Sprintf("%.6f", row.Return),
			fmt.Sprintf("%d", row.Excluded),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTransactionsCSV writes the trade log as CSV.
func (r *Result) WriteTransactionsCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "symbol", "side", "quantity", "fill_price", "cost"}); err != nil {
		return err
	}
	for _, t := range r.Transactions {
		rec := []string{
			t.Date.Format(csvDateLayout),
			t.Symbol,
			string(t.Side),
			fmt.Sprintf("%.6f", t.Quantity),
			fmt.Sprintf("%.4f", t.FillPrice),
			fmt.Sprintf("%.4f", t.Cost),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SummaryRows converts the summary to its storage form.
func (r *Result) SummaryRows() []store.SummaryRow {
	rows := make([]store.SummaryRow, len(r.Summary))
	for i, row := range r.Summary {
		rows[i] = store.SummaryRow{
			Date:       row.Date.Format(csvDateLayout),
			TotalValue: row.TotalValue,
			Cash:       row.Cash,
			Return:     row.Return,
			Excluded:   row.Excluded,
		}
	}
	return rows
}

// TransactionRows converts the trade log to its storage form.
func (r *Result) TransactionRows() []store.TransactionRow {
	rows := make([]store.TransactionRow, len(r.Transactions))
	for i, t := range r.Transactions {
		rows[i] = store.TransactionRow{
			Date:      t.Date.Format(csvDateLayout),
			Symbol:    t.Symbol,
			Side:      string(t.Side),
			Quantity:  t.Quantity,
			FillPrice: t.FillPrice,
			Cost:      t.Cost,
		}
	}
	return rows
}
