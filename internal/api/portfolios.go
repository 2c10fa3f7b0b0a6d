package api

import (
	"fmt"
	"net/http"

	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// GetPortfolio handles GET /portfolios/{id}
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	id, err := objectIDVar(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	p, err := h.portfolios.GetPortfolioWithCurrentValues(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// GetPortfolioByUsername handles GET /users/name/{username}/portfolio
func (h *Handler) GetPortfolioByUsername(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetPortfolioByUsername(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// GetPortfolioMetrics handles GET /portfolios/{id}/metrics
func (h *Handler) GetPortfolioMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := objectIDVar(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	m, err := h.portfolios.Metrics(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// GetPortfolioHistory handles GET /portfolios/{id}/history?range=
func (h *Handler) GetPortfolioHistory(w http.ResponseWriter, r *http.Request) {
	id, err := objectIDVar(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	hist, err := h.history.History(r.Context(), id, r.URL.Query().Get("range"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, hist)
}

// GetPortfolioSummary handles GET /portfolios/{id}/summary?range=
func (h *Handler) GetPortfolioSummary(w http.ResponseWriter, r *http.Request) {
	id, err := objectIDVar(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	summary, err := h.history.Summary(r.Context(), id, r.URL.Query().Get("range"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// SetHolding handles PUT /portfolios/{id}/holdings/{stockId}
func (h *Handler) SetHolding(w http.ResponseWriter, r *http.Request) {
	id, err := objectIDVar(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stockID, err := objectIDVar(r, "stockId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req struct {
		Quantity decimal.Decimal `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Quantity.IsNegative() {
		h.writeError(w, r, fmt.Errorf("%w: quantity must not be negative", models.ErrValidation))
		return
	}

	if _, err := h.store.GetStock(r.Context(), stockID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.store.SetHoldingQuantity(r.Context(), id, stockID, req.Quantity); err != nil {
		h.writeError(w, r, err)
		return
	}

	p, err := h.portfolios.RecomputePortfolio(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// RemoveHolding handles DELETE /portfolios/{id}/holdings/{stockId}
func (h *Handler) RemoveHolding(w http.ResponseWriter, r *http.Request) {
	id, err := objectIDVar(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stockID, err := objectIDVar(r, "stockId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.store.RemoveHolding(r.Context(), id, stockID); err != nil {
		h.writeError(w, r, err)
		return
	}

	p, err := h.portfolios.RecomputePortfolio(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// GetExchangeRate handles GET /exchange-rate
func (h *Handler) GetExchangeRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.portfolios.CurrentExchangeRate(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"currencyPair": models.ForeignCurrency + "-" + models.BaseCurrency,
		"rate":         rate,
	})
}

// UpdateExchangeRate handles PUT /exchange-rate
func (h *Handler) UpdateExchangeRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate      decimal.Decimal `json:"rate"`
		UpdatedBy string          `json:"updatedBy"`
		Source    string          `json:"source"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	change, err := h.portfolios.UpdateExchangeRate(r.Context(), req.Rate, req.UpdatedBy, req.Source)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, change)
}
