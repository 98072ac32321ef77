package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"dealbook/internal/core"
	applog "dealbook/internal/log"
	"dealbook/internal/session"
	"dealbook/internal/store"
)

const dealsPath = "/rest/v1/deals"

// TokenSource supplies the bearer of the client a call is made for.
type TokenSource interface {
	AccessToken(ctx context.Context) string
}

// Deals implements store.DealStore over PostgREST. Row level security on the
// hosted table enforces ownership; the user_id filter is sent as well.
type Deals struct {
	client *Client
	tokens TokenSource
}

func NewDeals(client *Client, tokens TokenSource) *Deals {
	return &Deals{client: client, tokens: tokens}
}

// dealRow decodes numeric columns loosely; PostgREST may send numbers or
// strings for numeric types.
type dealRow struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	DealDate       string `json:"deal_date"`
	USDT           any    `json:"usdt"`
	BuyCommission  any    `json:"buy_commission"`
	BuyAmount      any    `json:"buy_amount"`
	SellCommission any    `json:"sell_commission"`
	SellAmount     any    `json:"sell_amount"`
}

// dealDateLayouts are tried in order. PostgREST renders timestamptz with an
// offset and plain timestamp columns without one; the latter are read as UTC.
var dealDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
}

func parseDealDate(raw string) (time.Time, error) {
	for _, layout := range dealDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: deal_date %q", store.ErrMalformedRecord, raw)
}

func (r dealRow) toDeal() (core.Deal, error) {
	at, err := parseDealDate(r.DealDate)
	if err != nil {
		return core.Deal{}, fmt.Errorf("deal %s: %w", r.ID, err)
	}
	return core.Deal{
		ID:             r.ID,
		UserID:         r.UserID,
		DealDate:       at,
		USDT:           core.Coerce(r.USDT),
		BuyCommission:  core.Coerce(r.BuyCommission),
		BuyAmount:      core.Coerce(r.BuyAmount),
		SellCommission: core.Coerce(r.SellCommission),
		SellAmount:     core.Coerce(r.SellAmount),
	}, nil
}

func (d *Deals) token(ctx context.Context) (string, error) {
	tok := d.tokens.AccessToken(ctx)
	if tok == "" {
		return "", session.ErrNotAuthenticated
	}
	return tok, nil
}

func ownerFilter(userID, id string) string {
	v := url.Values{}
	v.Set("id", "eq."+id)
	v.Set("user_id", "eq."+userID)
	return v.Encode()
}

func (d *Deals) ListDeals(ctx context.Context, q store.DealQuery) ([]core.Deal, error) {
	tok, err := d.token(ctx)
	if err != nil {
		return nil, err
	}
	v := url.Values{}
	v.Set("select", "*")
	v.Set("user_id", "eq."+q.UserID)
	v.Add("deal_date", "gte."+q.From.UTC().Format(time.RFC3339Nano))
	v.Add("deal_date", "lt."+q.To.UTC().Format(time.RFC3339Nano))
	v.Set("order", "deal_date.desc")

	var rows []dealRow
	if err := d.client.do(ctx, request{method: http.MethodGet, path: dealsPath + "?" + v.Encode(), token: tok}, &rows); err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	return d.toDeals(ctx, rows), nil
}

func (d *Deals) GetDeal(ctx context.Context, userID, id string) (core.Deal, error) {
	tok, err := d.token(ctx)
	if err != nil {
		return core.Deal{}, err
	}
	var rows []dealRow
	path := dealsPath + "?select=*&" + ownerFilter(userID, id)
	if err := d.client.do(ctx, request{method: http.MethodGet, path: path, token: tok}, &rows); err != nil {
		return core.Deal{}, fmt.Errorf("get deal: %w", err)
	}
	if len(rows) == 0 {
		return core.Deal{}, store.ErrNotFound
	}
	return rows[0].toDeal()
}

func (d *Deals) InsertDeal(ctx context.Context, deal core.Deal) (string, error) {
	if err := deal.Validate(); err != nil {
		return "", err
	}
	tok, err := d.token(ctx)
	if err != nil {
		return "", err
	}
	body := map[string]any{
		"user_id":         deal.UserID,
		"deal_date":       deal.DealDate.UTC().Format(time.RFC3339Nano),
		"usdt":            deal.USDT,
		"buy_commission":  deal.BuyCommission,
		"buy_amount":      deal.BuyAmount,
		"sell_commission": deal.SellCommission,
		"sell_amount":     deal.SellAmount,
	}
	var rows []dealRow
	err = d.client.do(ctx, request{
		method: http.MethodPost,
		path:   dealsPath,
		token:  tok,
		body:   body,
		prefer: "return=representation",
	}, &rows)
	if err != nil {
		return "", fmt.Errorf("insert deal: %w", err)
	}
	if len(rows) == 0 || rows[0].ID == "" {
		return "", fmt.Errorf("insert deal: empty representation")
	}
	return rows[0].ID, nil
}

func (d *Deals) UpdateDeal(ctx context.Context, userID, id string, patch store.DealPatch) error {
	tok, err := d.token(ctx)
	if err != nil {
		return err
	}
	body := map[string]decimal.Decimal{}
	set := func(name string, v *decimal.Decimal) {
		if v != nil {
			body[name] = *v
		}
	}
	set("usdt", patch.USDT)
	set("buy_commission", patch.BuyCommission)
	set("buy_amount", patch.BuyAmount)
	set("sell_commission", patch.SellCommission)
	set("sell_amount", patch.SellAmount)

	var rows []dealRow
	err = d.client.do(ctx, request{
		method: http.MethodPatch,
		path:   dealsPath + "?" + ownerFilter(userID, id),
		token:  tok,
		body:   body,
		prefer: "return=representation",
	}, &rows)
	if err != nil {
		return fmt.Errorf("update deal: %w", err)
	}
	if len(rows) == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *Deals) DeleteDeal(ctx context.Context, userID, id string) error {
	tok, err := d.token(ctx)
	if err != nil {
		return err
	}
	var rows []dealRow
	err = d.client.do(ctx, request{
		method: http.MethodDelete,
		path:   dealsPath + "?" + ownerFilter(userID, id),
		token:  tok,
		prefer: "return=representation",
	}, &rows)
	if err != nil {
		return fmt.Errorf("delete deal: %w", err)
	}
	if len(rows) == 0 {
		return store.ErrNotFound
	}
	return nil
}

// toDeals skips rows that cannot be decoded so one bad row does not hide
// the rest of the month.
func (d *Deals) toDeals(ctx context.Context, rows []dealRow) []core.Deal {
	deals := make([]core.Deal, 0, len(rows))
	for _, r := range rows {
		deal, err := r.toDeal()
		if err != nil {
			d.client.logger.WarnContext(ctx, "Skipping malformed deal row",
				applog.FieldDealID, r.ID, applog.FieldError, err)
			continue
		}
		deals = append(deals, deal)
	}
	return deals
}
