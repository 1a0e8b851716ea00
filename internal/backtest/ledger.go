package backtest

import (
	"sort"
	"time"

	"meridian/internal/domain"
	"meridian/internal/pit"
)

// positionEpsilon absorbs floating-point residue when a position is sold
// down to zero.
const positionEpsilon = 1e-9

// Ledger holds the cash and positions of one running backtest. It is owned
// by exactly one Backtester and mutated only through Apply.
type Ledger struct {
	cash      float64
	positions map[string]domain.Position
	lastMarks map[string]float64 // last known price per held symbol
}

// NewLedger creates a ledger holding only cash.
func NewLedger(cash float64) *Ledger {
	return &Ledger{
		cash:      cash,
		positions: make(map[string]domain.Position),
		lastMarks: make(map[string]float64),
	}
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() float64 {
	return l.cash
}

// Position returns the current position for a symbol, if held.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	p, ok := l.positions[symbol]
	return p, ok
}

// Symbols returns the held symbols in ascending order.
func (l *Ledger) Symbols() []string {
	symbols := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// Apply commits a filled trade. Buys debit cash by notional plus cost and
// must never drive cash negative; sells credit cash by notional minus cost
// and must never exceed the held quantity. Violations indicate a sizing
// defect upstream and return typed errors that abort the run.
func (l *Ledger) Apply(trade domain.Trade) error {
	if trade.Quantity <= 0 {
		return &InvalidTradeError{
			Date:     trade.Date,
			Symbol:   trade.Symbol,
			Side:     trade.Side,
			Quantity: trade.Quantity,
			Reason:   "quantity must be positive",
		}
	}

	pos := l.positions[trade.Symbol]
	pos.Symbol = trade.Symbol

	switch trade.Side {
	case domain.SideBuy:
		outflow := trade.Notional() + trade.Cost
		if outflow > l.cash+positionEpsilon {
			return &InsufficientCashError{
				Date:     trade.Date,
				Symbol:   trade.Symbol,
				Required: outflow,
				Cash:     l.cash,
			}
		}
		l.cash -= outflow
		pos.Quantity += trade.Quantity
		pos.CostBasis += outflow
		l.positions[trade.Symbol] = pos
		l.lastMarks[trade.Symbol] = trade.FillPrice

	case domain.SideSell:
		if trade.Quantity > pos.Quantity+positionEpsilon {
			return &InvalidTradeError{
				Date:     trade.Date,
				Symbol:   trade.Symbol,
				Side:     trade.Side,
				Quantity: trade.Quantity,
				Reason:   "sell exceeds held quantity",
			}
		}
		l.cash += trade.Notional() - trade.Cost

		// Reduce cost basis in proportion to the quantity sold.
		fraction := trade.Quantity / pos.Quantity
		pos.CostBasis *= 1 - fraction
		pos.Quantity -= trade.Quantity
		if pos.Quantity <= positionEpsilon {
			delete(l.positions, trade.Symbol)
			delete(l.lastMarks, trade.Symbol)
		} else {
			l.positions[trade.Symbol] = pos
			l.lastMarks[trade.Symbol] = trade.FillPrice
		}

	default:
		return &InvalidTradeError{
			Date:     trade.Date,
			Symbol:   trade.Symbol,
			Side:     trade.Side,
			Quantity: trade.Quantity,
			Reason:   "unknown trade side",
		}
	}

	return nil
}

// MarkToMarket values the ledger with prices as of the view's date. A held
// position whose price is unavailable that day keeps its last known mark and
// is reported in stale, never silently dropped from the total.
func (l *Ledger) MarkToMarket(view *pit.AsOfView) (total float64, stale []string) {
	total = l.cash
	for _, sym := range l.Symbols() {
		pos := l.positions[sym]
		if p, err := view.Price(sym); err == nil {
			l.lastMarks[sym] = p.Close
		} else {
			stale = append(stale, sym)
		}
		total += pos.Quantity * l.lastMarks[sym]
	}
	return total, stale
}

// Snapshot records the ledger state at a date, valued via MarkToMarket.
// Positions are deep-copied so later mutations cannot rewrite history.
func (l *Ledger) Snapshot(date time.Time, view *pit.AsOfView) (domain.LedgerSnapshot, []string) {
	total, stale := l.MarkToMarket(view)

	positions := make(map[string]domain.Position, len(l.positions))
	for sym, pos := range l.positions {
		positions[sym] = pos
	}

	return domain.LedgerSnapshot{
		Date:       domain.Day(date),
		Cash:       l.cash,
		Positions:  positions,
		TotalValue: total,
	}, stale
}
