// Package pnl computes realized and unrealized profit/loss for a single
// position. It is pure: no I/O, no rounding. Presentation code decides how
// many decimals to show.
package pnl

import (
	"github.com/shopspring/decimal"

	"github.com/0xd3bs/buysmart/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Result is the signed profit of one unit moved from openPrice to closePrice.
type Result struct {
	Absolute decimal.Decimal `json:"absolute"`
	Percent  decimal.Decimal `json:"percent"`
}

// Compute returns the P&L of a position of the given side.
//
// A BUY profits when the price rises (close - open); a SELL profits when the
// price falls (open - close). Percent is relative to openPrice with the sign
// preserved. A non-positive openPrice yields a zero Percent rather than a
// division panic; stores never persist such a price.
func Compute(side model.Side, openPrice, closePrice decimal.Decimal) Result {
	var abs decimal.Decimal
	switch side {
	case model.SideSell:
		abs = openPrice.Sub(closePrice)
	default:
		abs = closePrice.Sub(openPrice)
	}

	pct := decimal.Zero
	if openPrice.IsPositive() {
		pct = abs.Div(openPrice).Mul(hundred)
	}
	return Result{Absolute: abs, Percent: pct}
}

// Unrealized marks an open position against the current spot price.
func Unrealized(p model.Position, current decimal.Decimal) Result {
	return Compute(p.Side, p.PriceUSD, current)
}

// Realized returns the stored P&L of a closed position, or false when the
// position is still open.
func Realized(p model.Position) (Result, bool) {
	if p.Status != model.StatusClosed || !p.ProfitLoss.Valid {
		return Result{}, false
	}
	return Result{Absolute: p.ProfitLoss.Decimal, Percent: p.ProfitLossPercent.Decimal}, true
}
