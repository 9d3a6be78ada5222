// Package risk converts the configured notional budget into exchange-valid
// order quantities and quantizes threshold prices to the instrument grid.
// Truncation is always downward so the configured budget is never exceeded.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"scalpbot/internal/ports"
)

// Size computes the order quantity for a fixed USDT notional budget at the
// given price: raw = (maxNotionalUSDT * leverage) / price, truncated down to
// the nearest multiple of quantityStep. The result is always an exact
// multiple of the step and never exceeds the raw quantity.
//
// Returns ErrSizing when price is non-positive or the budget is too small
// for the current price/step; the caller must skip the trade, never submit
// a zero-size order.
func Size(maxNotionalUSDT float64, leverage int, price float64, quantityStep decimal.Decimal) (decimal.Decimal, error) {
	if price <= 0 {
		return decimal.Zero, fmt.Errorf("%w: price %v is not positive", ports.ErrSizing, price)
	}
	if leverage <= 0 {
		return decimal.Zero, fmt.Errorf("%w: leverage %d is not positive", ports.ErrSizing, leverage)
	}
	if quantityStep.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: quantity step %s is not positive", ports.ErrSizing, quantityStep)
	}

	raw := decimal.NewFromFloat(maxNotionalUSDT).
		Mul(decimal.NewFromInt(int64(leverage))).
		Div(decimal.NewFromFloat(price))

	qty := raw.Div(quantityStep).Floor().Mul(quantityStep)
	if qty.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: notional %v at price %v rounds to zero (step %s)",
			ports.ErrSizing, maxNotionalUSDT, price, quantityStep)
	}
	return qty, nil
}

// QuantizePrice truncates a threshold price down to the instrument's price
// step. A non-positive step leaves the price unchanged.
func QuantizePrice(price float64, priceStep decimal.Decimal) float64 {
	if priceStep.Sign() <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	return p.Div(priceStep).Floor().Mul(priceStep).InexactFloat64()
}
