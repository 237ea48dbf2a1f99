package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/Ascentul/Ascentul-sub014/internal/audit/http"
	"github.com/Ascentul/Ascentul-sub014/internal/auth"
	"github.com/Ascentul/Ascentul-sub014/internal/authz"
	"github.com/Ascentul/Ascentul-sub014/internal/clerk"
	"github.com/Ascentul/Ascentul-sub014/internal/identity"
	"github.com/Ascentul/Ascentul-sub014/internal/impersonate"
	"github.com/Ascentul/Ascentul-sub014/internal/observability"
	"github.com/Ascentul/Ascentul-sub014/internal/reconcile"
	"github.com/Ascentul/Ascentul-sub014/internal/shared"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager

	AuthHandler          *auth.Handler
	UsersHandler         *identity.Handler
	AuditHandler         *audithttp.Handler
	DiagnosticsHandler   *reconcile.Handler
	ImpersonationHandler *impersonate.Handler
	Webhook              *clerk.Webhook

	Guard   authz.Middleware
	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.Webhook != nil {
		params.Webhook.MountRoutes(r)
	}

	r.Route("/api", func(api chi.Router) {
		if params.UsersHandler != nil {
			params.UsersHandler.MountRoutes(api, params.Guard)
		}
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(api, params.Guard)
		}
		if params.DiagnosticsHandler != nil {
			params.DiagnosticsHandler.MountRoutes(api, params.Guard)
		}
		if params.ImpersonationHandler != nil {
			params.ImpersonationHandler.MountRoutes(api)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
