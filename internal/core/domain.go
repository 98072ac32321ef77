package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Buy  DealType = "buy"
	Sell DealType = "sell"
)

type (
	// DealType identifies the leg of a single-leg deal.
	DealType string

	// Deal is one round-trip exchange: a buy leg and a sell leg of the same
	// USDT quantity recorded together.
	Deal struct {
		ID             string          `json:"id"`
		UserID         string          `json:"user_id"`
		DealDate       time.Time       `json:"deal_date"`
		USDT           decimal.Decimal `json:"usdt"`
		BuyCommission  decimal.Decimal `json:"buy_commission"` // percent
		BuyAmount      decimal.Decimal `json:"buy_amount"`
		SellCommission decimal.Decimal `json:"sell_commission"` // percent
		SellAmount     decimal.Decimal `json:"sell_amount"`
	}

	// Leg is a single-leg deal as used by the preview calculator.
	Leg struct {
		Type       DealType        `json:"type"`
		Amount     decimal.Decimal `json:"amount"`
		Commission decimal.Decimal `json:"commission"` // percent
	}
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidCommission = errors.New("invalid commission")
	ErrInvalidDealType   = errors.New("invalid deal type")
	ErrInvalidMonth      = errors.New("invalid month")
	ErrEmptyUser         = errors.New("empty user id")
	ErrZeroDate          = errors.New("deal date cannot be zero")
)

// ParseDealType accepts "buy" or "sell" in any case.
func ParseDealType(s string) (DealType, error) {
	t := DealType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", ErrInvalidDealType
	}
	return t, nil
}

func (t DealType) Valid() bool {
	return t == Buy || t == Sell
}

// Profit is the per-row result shown next to each deal.
func (d Deal) Profit() decimal.Decimal {
	return d.SellAmount.Sub(d.BuyAmount)
}

// Validate checks the stored invariants of a deal. The ID is not checked
// because it is assigned by the store.
func (d Deal) Validate() error {
	if strings.TrimSpace(d.UserID) == "" {
		return ErrEmptyUser
	}
	if d.DealDate.IsZero() {
		return ErrZeroDate
	}
	if !d.USDT.IsPositive() {
		return ErrInvalidAmount
	}
	if d.BuyAmount.IsNegative() || d.SellAmount.IsNegative() {
		return ErrInvalidAmount
	}
	if !InPercentRange(d.BuyCommission) || !InPercentRange(d.SellCommission) {
		return ErrInvalidCommission
	}
	return nil
}

// InPercentRange reports whether p lies in [0, 100].
func InPercentRange(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(hundred)
}
