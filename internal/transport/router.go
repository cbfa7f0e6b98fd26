package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/admission"
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/workflow"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Authenticate func(http.Handler) http.Handler
	Admission    *admission.Controller
	Router       MessageRouter
	Agents       AgentSource
	Engine       *workflow.Engine

	// Observability endpoints and instrumentation, injected so the
	// transport layer stays free of metrics wiring.
	Health     http.HandlerFunc
	Ready      http.HandlerFunc
	Metrics    http.Handler
	Instrument []func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	for _, mw := range deps.Instrument {
		r.Use(mw)
	}

	// Public routes — bypass authentication.
	if deps.Health != nil {
		r.Get("/healthz", deps.Health)
	}
	if deps.Ready != nil {
		r.Get("/readyz", deps.Ready)
	}
	if deps.Metrics != nil {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, deps.Metrics)
	}

	// Authenticated routes — full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(Admit(deps.Admission))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Post("/v1/messages", handleMessage(deps.Router, deps.Agents, logger))

		r.Post("/v1/workflows", handleWorkflowStart(deps.Engine))
		r.Get("/v1/workflows", handleWorkflowList(deps.Engine))
		r.Get("/v1/workflows/{instanceId}", handleWorkflowGet(deps.Engine))
		r.Post("/v1/workflows/{instanceId}/advance", handleWorkflowAdvance(deps.Engine))
		r.Post("/v1/workflows/{instanceId}/cancel", handleWorkflowCancel(deps.Engine))
	})

	return r
}
