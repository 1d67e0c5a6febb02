package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cambix/cambix/internal/platform/httpx"
	"github.com/cambix/cambix/internal/shared"
	"github.com/cambix/cambix/internal/till"
)

// TillPort resolves the caller's open till for listing endpoints.
type TillPort interface {
	CurrentOpen(ctx context.Context, operatorID int64) (till.Till, error)
}

// Handler wires HTTP endpoints for the transaction engine.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	tills    TillPort
	validate *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, tills TillPort) *Handler {
	return &Handler{logger: logger, service: service, tills: tills, validate: validator.New()}
}

// MountRoutes registers transaction routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transactions", h.handleRecord)
	r.Get("/transactions/{id}", h.handleGet)
	r.Post("/transactions/{id}/void-request", h.handleVoidRequest)
	r.Post("/transactions/{id}/void-approve", h.handleVoidApprove)
	r.Get("/tills/current/transactions", h.handleList)
}

type recordRequest struct {
	Type     string `json:"type" validate:"required,oneof=BUY SELL"`
	Currency string `json:"currency" validate:"required,len=3"`
	Amount   string `json:"amount" validate:"required"`
	Rate     string `json:"rate" validate:"required"`
	// Total is the caller-computed home total, re-verified server side.
	Total    string `json:"total" validate:"required"`
	Customer string `json:"customer"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	op := shared.OperatorFromContext(r.Context())
	var req recordRequest
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
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid rate", shared.ErrValidation))
		return
	}
	total, err := decimal.NewFromString(req.Total)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid total", shared.ErrValidation))
		return
	}

	recorded, err := h.service.Record(r.Context(), RecordInput{
		OperatorID:   op.ID,
		Type:         Type(req.Type),
		Currency:     req.Currency,
		Amount:       amount,
		Rate:         rate,
		ClaimedTotal: total,
		Customer:     req.Customer,
	})
	if err != nil {
		h.logger.Error("record transaction", slog.Int64("operator_id", op.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, recorded)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	op := shared.OperatorFromContext(r.Context())
	current, err := h.tills.CurrentOpen(r.Context(), op.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	transactions, err := h.service.ListByTill(r.Context(), current.ID, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transactions)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid transaction id", shared.ErrValidation))
		return
	}
	record, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) handleVoidRequest(w http.ResponseWriter, r *http.Request) {
	h.handleVoid(w, r, h.service.RequestVoid)
}

func (h *Handler) handleVoidApprove(w http.ResponseWriter, r *http.Request) {
	op := shared.OperatorFromContext(r.Context())
	if op.Role != shared.RoleAdmin {
		httpx.RespondError(w, fmt.Errorf("%w: void approval needs admin role", shared.ErrUnauthorized))
		return
	}
	h.handleVoid(w, r, h.service.ApproveVoid)
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, uuid.UUID) (Transaction, error)) {
	op := shared.OperatorFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid transaction id", shared.ErrValidation))
		return
	}
	record, err := fn(r.Context(), op.ID, id)
	if err != nil {
		h.logger.Error("void transaction", slog.String("transaction_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}
