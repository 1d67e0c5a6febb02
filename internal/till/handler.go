package till

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/cambix/cambix/internal/platform/httpx"
	"github.com/cambix/cambix/internal/shared"
)

// Handler wires HTTP endpoints for the till lifecycle.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers till routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/open", h.handleOpen)
	r.Post("/close", h.handleClose)
	r.Post("/adjust", h.handleAdjust)
	r.Get("/current", h.handleCurrent)
	r.Get("/current/movements", h.handleMovements)
}

type openRequest struct {
	OpeningBalances map[string]string `json:"openingBalances" validate:"required,min=1"`
}

type adjustRequest struct {
	Currency  string `json:"currency" validate:"required,len=3"`
	Direction string `json:"direction" validate:"required,oneof=IN OUT"`
	Amount    string `json:"amount" validate:"required"`
	Note      string `json:"note"`
}

type tillResponse struct {
	Till     Till      `json:"till"`
	Balances []Balance `json:"balances,omitempty"`
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	op := shared.OperatorFromContext(r.Context())
	var req openRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: malformed json body", shared.ErrValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err))
		return
	}
	opening := make(map[string]decimal.Decimal, len(req.OpeningBalances))
	for code, raw := range req.OpeningBalances {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: invalid amount for %s", shared.ErrValidation, code))
			return
		}
		opening[code] = amount
	}
	created, err := h.service.Open(r.Context(), op.ID, opening)
	if err != nil {
		h.logger.Error("open till", slog.Int64("operator_id", op.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	balances, err := h.service.Balances(r.Context(), created.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tillResponse{Till: created, Balances: balances})
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	op := shared.OperatorFromContext(r.Context())
	closed, err := h.service.Close(r.Context(), op.ID)
	if err != nil {
		h.logger.Error("close till", slog.Int64("operator_id", op.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tillResponse{Till: closed})
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	op := shared.OperatorFromContext(r.Context())
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: malformed json body", shared.ErrValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid amount", shared.ErrValidation))
		return
	}
	balance, err := h.service.Adjust(r.Context(), AdjustInput{
		OperatorID: op.ID,
		Currency:   req.Currency,
		Direction:  Direction(req.Direction),
		Amount:     amount,
		Note:       req.Note,
	})
	if err != nil {
		h.logger.Error("adjust till", slog.Int64("operator_id", op.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	op := shared.OperatorFromContext(r.Context())
	current, err := h.service.CurrentOpen(r.Context(), op.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balances, err := h.service.Balances(r.Context(), current.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tillResponse{Till: current, Balances: balances})
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	op := shared.OperatorFromContext(r.Context())
	current, err := h.service.CurrentOpen(r.Context(), op.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.Movements(r.Context(), current.ID, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}
