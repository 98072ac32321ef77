package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"dealbook/internal/core"
	"dealbook/internal/services"
)

type legView struct {
	Type       core.DealType   `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Commission decimal.Decimal `json:"commission"`
	Fee        decimal.Decimal `json:"fee"`
	Total      decimal.Decimal `json:"total"`
	PnL        decimal.Decimal `json:"pnl"`
}

type legRequest struct {
	Type       string `json:"type" validate:"required"`
	Amount     Number `json:"amount"`
	Commission Number `json:"commission"`
}

type legsRequest struct {
	Legs []legRequest `json:"legs" validate:"required,min=1,max=500,dive"`
}

type legsResponse struct {
	Legs  []legView     `json:"legs"`
	Stats core.LegStats `json:"stats"`
}

// toLeg parses one single-leg input. The commission is clamped to [0, 100].
func (s *Server) toLeg(typ string, amount, commission Number) (core.Leg, error) {
	t, err := core.ParseDealType(typ)
	if err != nil {
		return core.Leg{}, err
	}
	a, err := amount.Decimal(s.deps.NumericPolicy)
	if err != nil {
		return core.Leg{}, err
	}
	c, err := commission.Decimal(s.deps.NumericPolicy)
	if err != nil {
		return core.Leg{}, err
	}
	return core.Leg{Type: t, Amount: a, Commission: core.ClampPercent(c)}, nil
}

func newLegView(l core.Leg) legView {
	return legView{
		Type:       l.Type,
		Amount:     l.Amount,
		Commission: l.Commission,
		Fee:        core.Fee(l.Amount, l.Commission),
		Total:      core.Total(l.Type, l.Amount, l.Commission),
		PnL:        core.PnL(l.Type, l.Amount, l.Commission),
	}
}

// handlePreview computes a two-leg deal without storing it.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in, err := s.createInput(NumberOf(q.Get("usdt")), NumberOf(q.Get("buy_commission")), NumberOf(q.Get("sell_commission")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, services.PreviewDeal(in))
}

func (s *Server) handlePreviewLeg(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	leg, err := s.toLeg(q.Get("type"), NumberOf(q.Get("amount")), NumberOf(q.Get("commission")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLegView(leg))
}

func (s *Server) handlePreviewLegs(w http.ResponseWriter, r *http.Request) {
	var req legsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	legs := make([]core.Leg, 0, len(req.Legs))
	resp := legsResponse{Legs: make([]legView, 0, len(req.Legs))}
	for _, lr := range req.Legs {
		leg, err := s.toLeg(lr.Type, lr.Amount, lr.Commission)
		if err != nil {
			writeError(w, r, err)
			return
		}
		legs = append(legs, leg)
		resp.Legs = append(resp.Legs, newLegView(leg))
	}
	resp.Stats = core.AggregateLegs(legs)
	writeJSON(w, http.StatusOK, resp)
}
