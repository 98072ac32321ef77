package core

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Fee returns amount × percent / 100.
func Fee(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(hundred)
}

// Total is the post-fee total of a single-leg deal: a sell nets the amount
// minus the fee, a buy costs the amount plus the fee.
func Total(t DealType, amount, commission decimal.Decimal) decimal.Decimal {
	fee := Fee(amount, commission)
	if t == Sell {
		return amount.Sub(fee)
	}
	return amount.Add(fee)
}

// PnL is the fee's contribution to profit: positive for a sell, negative for
// a buy.
func PnL(t DealType, amount, commission decimal.Decimal) decimal.Decimal {
	fee := Fee(amount, commission)
	if t == Sell {
		return fee
	}
	return fee.Neg()
}

// BuyTotal is the buy leg of a two-leg deal: usdt minus the buy fee.
func BuyTotal(usdt, buyCommission decimal.Decimal) decimal.Decimal {
	return usdt.Sub(Fee(usdt, buyCommission))
}

// SellTotal is the sell leg of a two-leg deal: usdt plus the sell fee.
//
// The fee is added, not subtracted. This is the recorded product formula and
// is kept as is until the fee direction is confirmed.
func SellTotal(usdt, sellCommission decimal.Decimal) decimal.Decimal {
	return usdt.Add(Fee(usdt, sellCommission))
}

// ClampPercent limits p to [0, 100].
func ClampPercent(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

// ClampPercentFloat is ClampPercent for raw float input; NaN and infinities
// become zero.
func ClampPercentFloat(f float64) decimal.Decimal {
	return ClampPercent(FromFloat(f))
}
