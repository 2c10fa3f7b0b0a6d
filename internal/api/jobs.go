package api

import (
	"fmt"
	"net/http"

	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/gorilla/mux"
)

// TriggerJob runs a scheduled job immediately
// POST /jobs/{name}
func (h *Handler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if h.jobs == nil {
		h.writeError(w, r, fmt.Errorf("%w: job %s", models.ErrNotFound, name))
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job run triggered")

	if err := h.jobs.RunByName(name); err != nil {
		h.writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Job %s completed", name),
	})
}
