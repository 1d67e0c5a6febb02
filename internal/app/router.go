package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/cambix/cambix/internal/auth"
	"github.com/cambix/cambix/internal/currency"
	"github.com/cambix/cambix/internal/exchange"
	"github.com/cambix/cambix/internal/observability"
	"github.com/cambix/cambix/internal/report"
	"github.com/cambix/cambix/internal/till"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Auth            *auth.Middleware
	CurrencyHandler *currency.Handler
	TillHandler     *till.Handler
	ExchangeHandler *exchange.Handler
	ReportHandler   *report.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults. Every
// domain route requires an authenticated operator; only health and metrics
// stay open.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(params.Auth.Require)

		r.Route("/currencies", params.CurrencyHandler.MountRoutes)
		r.Route("/tills", params.TillHandler.MountRoutes)
		r.Route("/exchange", params.ExchangeHandler.MountRoutes)
		r.Route("/reports", params.ReportHandler.MountRoutes)
	})

	return r
}
