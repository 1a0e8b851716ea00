package backtest

import (
	"time"

	"meridian/internal/domain"
)

// FrictionModel converts a trade intent into a realized fill: slippage moves
// the fill price against the trader, and commission is charged on the filled
// notional.
type FrictionModel struct {
	CommissionRate float64 // fraction of notional, e.g. 0.001
	SlippageRate   float64 // fraction of price, e.g. 0.0005
}

// Execute fills a trade intent at the given market price. Buys fill above
// the market price, sells below. A non-positive quantity is a logic error in
// the caller's sizing and is rejected with InvalidTradeError.
func (f *FrictionModel) Execute(date time.Time, symbol string, side domain.Side, quantity, price float64) (domain.Trade, error) {
	if quantity <= 0 {
		return domain.Trade{}, &InvalidTradeError{
			Date:     date,
			Symbol:   symbol,
			Side:     side,
			Quantity: quantity,
			Reason:   "quantity must be positive",
		}
	}

	fill := price * (1 + f.SlippageRate)
	if side == domain.SideSell {
		fill = price * (1 - f.SlippageRate)
	}

	return domain.Trade{
		Date:      date,
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		FillPrice: fill,
		Cost:      quantity * fill * f.CommissionRate,
	}, nil
}
