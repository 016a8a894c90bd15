package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/workmesh/workmesh/internal/auth"
	"github.com/workmesh/workmesh/internal/authz"
	"github.com/workmesh/workmesh/internal/escrow"
	"github.com/workmesh/workmesh/internal/eventlog"
	"github.com/workmesh/workmesh/internal/observability"
	"github.com/workmesh/workmesh/internal/payments"
	"github.com/workmesh/workmesh/internal/skills"
	"github.com/workmesh/workmesh/internal/workflow"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config
	Auth   *auth.Service

	AuthzHandler    *authz.Handler
	EscrowHandler   *escrow.Handler
	WorkflowHandler *workflow.Handler
	PaymentsHandler *payments.Handler
	SkillsHandler   *skills.Handler
	EventsHandler   *eventlog.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with workmesh defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Auth:    params.Auth,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.AuthzHandler != nil {
		r.Route("/authz", params.AuthzHandler.MountRoutes)
	}
	if params.EscrowHandler != nil {
		r.Route("/escrow", params.EscrowHandler.MountRoutes)
	}
	if params.WorkflowHandler != nil {
		r.Route("/jobs", params.WorkflowHandler.MountRoutes)
	}
	if params.PaymentsHandler != nil {
		r.Route("/payments", params.PaymentsHandler.MountRoutes)
	}
	if params.SkillsHandler != nil {
		r.Route("/skills", params.SkillsHandler.MountRoutes)
	}
	if params.EventsHandler != nil {
		r.Route("/events", params.EventsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
