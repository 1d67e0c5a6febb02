package currency

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/cambix/cambix/internal/platform/httpx"
	"github.com/cambix/cambix/internal/shared"
)

// Handler wires HTTP endpoints for the currency registry.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers currency routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{code}", h.handleGet)
	r.Put("/{code}/rates", h.handleUpdateRates)
	r.Delete("/{code}", h.handleDelete)
}

type createRequest struct {
	Code     string  `json:"code" validate:"required,len=3"`
	Name     string  `json:"name" validate:"required"`
	BuyRate  string  `json:"buyRate" validate:"required"`
	SellRate string  `json:"sellRate" validate:"required"`
	BaseCost *string `json:"baseCost,omitempty"`
}

type updateRatesRequest struct {
	BuyRate  string `json:"buyRate" validate:"required"`
	SellRate string `json:"sellRate" validate:"required"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list currencies", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, currencies)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	cur, err := h.service.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cur)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, "malformed json body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err))
		return
	}
	input, err := parseCreateRequest(req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	cur, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create currency", slog.String("code", req.Code), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cur)
}

func (h *Handler) handleUpdateRates(w http.ResponseWriter, r *http.Request) {
	var req updateRatesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, "malformed json body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err))
		return
	}
	buy, sell, err := parseRatePair(req.BuyRate, req.SellRate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	cur, err := h.service.UpdateRates(r.Context(), chi.URLParam(r, "code"), buy, sell)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cur)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "code")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseCreateRequest(req createRequest) (CreateInput, error) {
	buy, sell, err := parseRatePair(req.BuyRate, req.SellRate)
	if err != nil {
		return CreateInput{}, err
	}
	input := CreateInput{Code: req.Code, Name: req.Name, BuyRate: buy, SellRate: sell}
	if req.BaseCost != nil {
		base, err := decimal.NewFromString(*req.BaseCost)
		if err != nil {
			return CreateInput{}, fmt.Errorf("%w: invalid base cost", shared.ErrValidation)
		}
		input.BaseCost = &base
	}
	return input, nil
}

func parseRatePair(buyStr, sellStr string) (decimal.Decimal, decimal.Decimal, error) {
	buy, err := decimal.NewFromString(buyStr)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: invalid buy rate", shared.ErrValidation)
	}
	sell, err := decimal.NewFromString(sellStr)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: invalid sell rate", shared.ErrValidation)
	}
	return buy, sell, nil
}
