package backtest

import (
	"errors"
	"fmt"
	"time"

	"meridian/internal/domain"
)

// ErrWeightConvergence signals that the configured weight caps make the
// target weights infeasible (for example, N positions each capped below
// 1/N). It is recoverable per date: the engine falls back to uncapped equal
// weighting for that date only.
var ErrWeightConvergence = errors.New("weight caps do not converge")

// InvalidTradeError reports a trade intent that is malformed: zero or
// negative quantity, or selling more than is held. It indicates a defect in
// the weight-diffing logic, not a market condition, and aborts the run.
type InvalidTradeError struct {
	Date     time.Time
	Symbol   string
	Side     domain.Side
	Quantity float64
	Reason   string
}

func (e *InvalidTradeError) Error() string {
	return fmt.Sprintf("invalid trade %s %s qty=%g on %s: %s",
		e.Side, e.Symbol, e.Quantity, e.Date.Format("2006-01-02"), e.Reason)
}

// InsufficientCashError reports a trade whose cash outflow exceeds the
// ledger's balance. Trade sizing must prevent this; hitting it aborts the
// run with full context.
type InsufficientCashError struct {
	Date     time.Time
	Symbol   string
	Required float64
	Cash     float64
}

func (e *InsufficientCashError) Error() string {
	return fmt.Sprintf("insufficient cash for %s on %s: need %.2f, have %.2f",
		e.Symbol, e.Date.Format("2006-01-02"), e.Required, e.Cash)
}
