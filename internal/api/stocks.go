package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// GetAllStocks handles GET /stocks
func (h *Handler) GetAllStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.store.ListStocks(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stocks)
}

// GetStock handles GET /stocks/{id}
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	id, err := objectIDVar(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	stock, err := h.store.GetStock(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stock)
}

// GetStockByName handles GET /stocks/name/{name}
func (h *Handler) GetStockByName(w http.ResponseWriter, r *http.Request) {
	stock, err := h.store.GetStockByName(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stock)
}

// AddStock handles POST /stocks
func (h *Handler) AddStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string          `json:"name"`
		Alias    string          `json:"alias"`
		Price    decimal.Decimal `json:"price"`
		Currency string          `json:"currency"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Name == "" || req.Currency == "" {
		h.writeError(w, r, fmt.Errorf("%w: name and currency are required", models.ErrValidation))
		return
	}
	if req.Price.IsNegative() {
		h.writeError(w, r, fmt.Errorf("%w: price must not be negative", models.ErrValidation))
		return
	}

	stock := &models.Stock{
		Name:     req.Name,
		Alias:    strings.TrimSpace(req.Alias),
		Price:    req.Price,
		Currency: req.Currency,
	}
	if err := h.store.CreateStock(r.Context(), stock); err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, stock)
}

// UpdateStockPrice handles PUT /stocks/name/{name}/price
func (h *Handler) UpdateStockPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	update, err := h.prices.UpdatePriceByName(r.Context(), mux.Vars(r)["name"], req.Price)
	if err != nil {
		if update != nil {
			// the price is stored; only the revaluation failed
			h.log.Warn().Err(err).Str("stock", update.Name).Msg("Price updated but revaluation failed")
			respondJSON(w, http.StatusAccepted, update)
			return
		}
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, update)
}
