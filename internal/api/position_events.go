package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/gorilla/mux"
)

// CreatePositionEvent handles POST /position-events
func (h *Handler) CreatePositionEvent(w http.ResponseWriter, r *http.Request) {
	var event models.PositionEvent
	if err := decodeJSON(r, &event); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := event.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.ledger.InsertPositionEvent(r.Context(), &event); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Info().
		Str("operation_id", event.OperationID).
		Str("user_id", event.UserID).
		Str("stock_id", event.StockID).
		Str("type", string(event.Type)).
		Msg("Position event recorded")
	respondJSON(w, http.StatusCreated, event)
}

// GetPositionEvent handles GET /position-events/{id}
func (h *Handler) GetPositionEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid id", models.ErrValidation))
		return
	}

	event, err := h.ledger.GetPositionEvent(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, event)
}

// ListPositionEvents handles GET /position-events?page=&pageSize=
func (h *Handler) ListPositionEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	events, err := h.ledger.ListPositionEvents(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// ListPositionEventsByUser handles GET /position-events/user/{userId}
func (h *Handler) ListPositionEventsByUser(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	events, err := h.ledger.ListPositionEventsByUser(r.Context(), mux.Vars(r)["userId"], limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// ListPositionEventsByStock handles GET /position-events/stock/{stockId}
func (h *Handler) ListPositionEventsByStock(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	events, err := h.ledger.ListPositionEventsByStock(r.Context(), mux.Vars(r)["stockId"], limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// ListPositionEventsByUserAndStock handles GET /position-events/user/{userId}/stock/{stockId}
func (h *Handler) ListPositionEventsByUserAndStock(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	limit, offset := pagination(r)
	events, err := h.ledger.ListPositionEventsByUserAndStock(r.Context(), vars["userId"], vars["stockId"], limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// OperationExists handles GET /position-events/operation/{operationId}
func (h *Handler) OperationExists(w http.ResponseWriter, r *http.Request) {
	opID := mux.Vars(r)["operationId"]
	exists, err := h.ledger.OperationExists(r.Context(), opID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"operationId": opID, "exists": exists})
}

// GetPositionEventStats handles GET /position-events/user/{userId}/stats
func (h *Handler) GetPositionEventStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.PositionEventStats(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
