package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"dealbook/internal/core"
)

var (
	// ErrNotFound is returned when a deal does not exist or belongs to another user.
	ErrNotFound = errors.New("deal not found")
	// ErrMalformedRecord is returned when a stored row cannot be decoded.
	// Reading it again will not help.
	ErrMalformedRecord = errors.New("malformed deal record")
)

type (
	// DealQuery selects one user's deals with From <= deal_date < To.
	DealQuery struct {
		UserID string
		From   time.Time
		To     time.Time
	}

	// DealPatch carries the mutable fields of a deal; nil means unchanged.
	// deal_date is write-once and has no patch field.
	DealPatch struct {
		USDT           *decimal.Decimal
		BuyCommission  *decimal.Decimal
		BuyAmount      *decimal.Decimal
		SellCommission *decimal.Decimal
		SellAmount     *decimal.Decimal
	}
)

// Ports for record store adapters.
type (
	DealReader interface {
		// ListDeals returns the matching deals, newest first.
		ListDeals(ctx context.Context, q DealQuery) ([]core.Deal, error)
		GetDeal(ctx context.Context, userID, id string) (core.Deal, error)
	}

	DealWriter interface {
		// InsertDeal stores d and returns the store-assigned id.
		InsertDeal(ctx context.Context, d core.Deal) (string, error)
		UpdateDeal(ctx context.Context, userID, id string, patch DealPatch) error
		DeleteDeal(ctx context.Context, userID, id string) error
	}

	DealStore interface {
		DealReader
		DealWriter
	}
)

// ForMonth builds the query for one calendar month in loc.
func ForMonth(userID string, m core.Month, loc *time.Location) DealQuery {
	from, to := m.Window(loc)
	return DealQuery{UserID: userID, From: from, To: to}
}

// Matches reports whether d falls inside the query.
func (q DealQuery) Matches(d core.Deal) bool {
	return d.UserID == q.UserID && !d.DealDate.Before(q.From) && d.DealDate.Before(q.To)
}

// IsEmpty reports whether the patch changes nothing.
func (p DealPatch) IsEmpty() bool {
	return p.USDT == nil && p.BuyCommission == nil && p.BuyAmount == nil &&
		p.SellCommission == nil && p.SellAmount == nil
}

// Apply returns d with the patched fields replaced.
func (p DealPatch) Apply(d core.Deal) core.Deal {
	if p.USDT != nil {
		d.USDT = *p.USDT
	}
	if p.BuyCommission != nil {
		d.BuyCommission = *p.BuyCommission
	}
	if p.BuyAmount != nil {
		d.BuyAmount = *p.BuyAmount
	}
	if p.SellCommission != nil {
		d.SellCommission = *p.SellCommission
	}
	if p.SellAmount != nil {
		d.SellAmount = *p.SellAmount
	}
	return d
}
