package http

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"dealbook/internal/core"
	"dealbook/internal/services"
)

type dealView struct {
	core.Deal
	Profit        decimal.Decimal `json:"profit"`
	ProfitDisplay string          `json:"profit_display"`
}

type monthView struct {
	Month core.Month        `json:"month"`
	Deals []dealView        `json:"deals"`
	Stats core.MonthlyStats `json:"stats"`
}

type listResponse struct {
	Months []monthView       `json:"months"`
	Total  core.MonthlyStats `json:"total"`
}

func newDealView(d core.Deal) dealView {
	p := d.Profit()
	return dealView{Deal: d, Profit: p, ProfitDisplay: core.FormatSigned(p)}
}

func newListResponse(snaps []core.MonthSnapshot) listResponse {
	resp := listResponse{Months: make([]monthView, 0, len(snaps))}
	var all []core.Deal
	for _, snap := range snaps {
		mv := monthView{Month: snap.Month, Stats: snap.Stats, Deals: make([]dealView, 0, len(snap.Deals))}
		for _, d := range snap.Deals {
			mv.Deals = append(mv.Deals, newDealView(d))
		}
		all = append(all, snap.Deals...)
		resp.Months = append(resp.Months, mv)
	}
	resp.Total = core.Aggregate(all)
	return resp
}

type createDealRequest struct {
	USDT           Number `json:"usdt"`
	BuyCommission  Number `json:"buy_commission"`
	SellCommission Number `json:"sell_commission"`
}

type updateDealRequest struct {
	USDT           Number `json:"usdt"`
	BuyCommission  Number `json:"buy_commission"`
	BuyAmount      Number `json:"buy_amount"`
	SellCommission Number `json:"sell_commission"`
	SellAmount     Number `json:"sell_amount"`
}

// resolveMonths reads ?preset= and ?month=. A month without a preset selects
// that month alone; neither selects the current month.
func (s *Server) resolveMonths(r *http.Request) ([]core.Month, error) {
	q := r.URL.Query()
	var custom core.Month
	if v := strings.TrimSpace(q.Get("month")); v != "" {
		m, err := core.ParseMonth(v)
		if err != nil {
			return nil, err
		}
		custom = m
	}

	presetParam := q.Get("preset")
	if strings.TrimSpace(presetParam) == "" && !custom.IsZero() {
		return []core.Month{custom}, nil
	}
	preset, err := core.ParsePreset(presetParam)
	if err != nil {
		return nil, badRequest("%v", err)
	}
	return preset.Months(s.deps.Deals.Now(), custom)
}

func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	months, err := s.resolveMonths(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snaps, err := s.deps.Deals.Months(r.Context(), months)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(snaps))
}

func (s *Server) handleCreateDeal(w http.ResponseWriter, r *http.Request) {
	var req createDealRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := s.createInput(req.USDT, req.BuyCommission, req.SellCommission)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.deps.Deals.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newDealView(d))
}

func (s *Server) handleUpdateDeal(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, r, badRequest("missing deal id"))
		return
	}
	var req updateDealRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	policy := s.deps.NumericPolicy
	var in services.UpdateInput
	var err error
	for _, f := range []struct {
		src Number
		dst **decimal.Decimal
	}{
		{req.USDT, &in.USDT},
		{req.BuyCommission, &in.BuyCommission},
		{req.BuyAmount, &in.BuyAmount},
		{req.SellCommission, &in.SellCommission},
		{req.SellAmount, &in.SellAmount},
	} {
		if *f.dst, err = f.src.Ptr(policy); err != nil {
			writeError(w, r, err)
			return
		}
	}

	d, err := s.deps.Deals.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDealView(d))
}

func (s *Server) handleDeleteDeal(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, r, badRequest("missing deal id"))
		return
	}
	if err := s.deps.Deals.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createInput(usdt, buyC, sellC Number) (services.CreateInput, error) {
	policy := s.deps.NumericPolicy
	var in services.CreateInput
	var err error
	if in.USDT, err = usdt.Decimal(policy); err != nil {
		return in, err
	}
	if in.BuyCommission, err = buyC.Decimal(policy); err != nil {
		return in, err
	}
	if in.SellCommission, err = sellC.Decimal(policy); err != nil {
		return in, err
	}
	return in, nil
}
