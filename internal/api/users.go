package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/chihkang/PortfolioManager/internal/models"
)

// CreateUser handles POST /users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string                         `json:"username"`
		Email    string                         `json:"email"`
		Settings map[string]models.SettingValue `json:"settings"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || !strings.Contains(req.Email, "@") {
		h.writeError(w, r, fmt.Errorf("%w: username and a valid email are required", models.ErrValidation))
		return
	}

	user, err := h.store.InsertUserAndPortfolio(r.Context(), &models.User{
		Username: req.Username,
		Email:    req.Email,
		Settings: req.Settings,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

// GetUser handles GET /users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := objectIDVar(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// ListUsers handles GET /users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

// DeleteUser handles DELETE /users/{id}
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := objectIDVar(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.store.DeleteUserAndPortfolio(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
