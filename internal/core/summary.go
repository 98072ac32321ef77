package core

import "github.com/shopspring/decimal"

// MonthlyStats summarises the two-leg deals of one month.
type MonthlyStats struct {
	PnL   decimal.Decimal `json:"pnl"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// LegStats summarises a set of single-leg deals.
type LegStats struct {
	Total  decimal.Decimal `json:"total"`
	Profit decimal.Decimal `json:"profit"`
}

// MonthSnapshot is the cached view of one month for one user.
type MonthSnapshot struct {
	Month Month        `json:"month"`
	Deals []Deal       `json:"deals"`
	Stats MonthlyStats `json:"stats"`
}

// Aggregate sums pnl += sell − buy and total += sell + buy over deals.
func Aggregate(deals []Deal) MonthlyStats {
	stats := MonthlyStats{PnL: decimal.Zero, Total: decimal.Zero}
	for _, d := range deals {
		stats.PnL = stats.PnL.Add(d.SellAmount.Sub(d.BuyAmount))
		stats.Total = stats.Total.Add(d.SellAmount.Add(d.BuyAmount))
		stats.Count++
	}
	return stats
}

// AggregateLegs sums Total and PnL over single-leg deals.
func AggregateLegs(legs []Leg) LegStats {
	stats := LegStats{Total: decimal.Zero, Profit: decimal.Zero}
	for _, l := range legs {
		stats.Total = stats.Total.Add(Total(l.Type, l.Amount, l.Commission))
		stats.Profit = stats.Profit.Add(PnL(l.Type, l.Amount, l.Commission))
	}
	return stats
}

// NewSnapshot builds a snapshot and its stats from the deals of month.
func NewSnapshot(month Month, deals []Deal) MonthSnapshot {
	if deals == nil {
		deals = []Deal{}
	}
	return MonthSnapshot{Month: month, Deals: deals, Stats: Aggregate(deals)}
}
