package report

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cambix/cambix/internal/platform/httpx"
	"github.com/cambix/cambix/internal/shared"
)

// Handler serves snapshot reads.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// MountRoutes registers report routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/tills/{tillID}", h.handleSnapshot)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	tillID, err := strconv.ParseInt(chi.URLParam(r, "tillID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid till id", shared.ErrValidation))
		return
	}
	snap, err := h.service.Snapshot(r.Context(), tillID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}
