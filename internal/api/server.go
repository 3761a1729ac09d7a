package api

import (
	"context"
	"net/http"

	"github.com/medforge/casgen/internal/domain"
)

// Server wraps an HTTP server with engine-specific routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string) *Server {
	mux := http.NewServeMux()

	// Open endpoints.
	mux.Handle("GET /api/v1/health", h.route("health", h.Health))
	mux.Handle("POST /api/v1/auth/token", h.route("auth_token", h.MintToken))
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics.Handler())
	}

	// Scenario endpoints.
	mux.Handle("POST /api/v1/scenarios", h.route("scenarios_create", h.protect(domain.ScopeSubmit, h.CreateScenario)))
	mux.Handle("GET /api/v1/scenarios", h.route("scenarios_list", h.protect(domain.ScopeRead, h.ListScenarios)))
	mux.Handle("GET /api/v1/scenarios/{scenarioID}", h.route("scenarios_get", h.protect(domain.ScopeRead, h.GetScenario)))
	mux.Handle("DELETE /api/v1/scenarios/{scenarioID}", h.route("scenarios_delete", h.protect(domain.ScopeAdmin, h.DeleteScenario)))

	// Job endpoints.
	mux.Handle("POST /api/v1/jobs", h.route("jobs_submit", h.protect(domain.ScopeSubmit, h.SubmitJob)))
	mux.Handle("GET /api/v1/jobs", h.route("jobs_list", h.protect(domain.ScopeRead, h.ListJobs)))
	mux.Handle("GET /api/v1/jobs/{jobID}", h.route("jobs_get", h.protect(domain.ScopeRead, h.GetJob)))
	mux.Handle("POST /api/v1/jobs/{jobID}/cancel", h.route("jobs_cancel", h.protect(domain.ScopeSubmit, h.CancelJob)))

	// Event endpoints.
	mux.Handle("GET /api/v1/jobs/{jobID}/events", h.route("jobs_events", h.protect(domain.ScopeRead, h.ListJobEvents)))
	mux.Handle("GET /api/v1/jobs/{jobID}/events/stream", h.route("jobs_stream", h.protect(domain.ScopeRead, h.StreamJobEvents)))

	// Stat and artifact endpoints.
	mux.Handle("GET /api/v1/jobs/{jobID}/stats", h.route("jobs_stats", h.protect(domain.ScopeRead, h.GetJobStats)))
	mux.Handle("GET /api/v1/jobs/{jobID}/artifacts", h.route("jobs_artifacts", h.protect(domain.ScopeRead, h.ListJobArtifacts)))
	mux.Handle("GET /api/v1/artifacts/{key...}", h.route("artifacts_download", h.protect(domain.ScopeRead, h.DownloadArtifact)))

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: corsMiddleware(mux),
	}

	return &Server{
		httpServer: srv,
	}
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// protect gates a handler behind credential, scope, and rate checks. A nil
// Guard leaves the handler open.
func (h *Handler) protect(scope string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Guard != nil {
			if _, err := h.Guard.CheckRequest(r.Context(), r, scope); err != nil {
				writeError(w, err)
				return
			}
		}
		fn(w, r)
	}
}

// route wraps a handler with request metrics for a fixed route label.
func (h *Handler) route(name string, fn http.HandlerFunc) http.Handler {
	if h.Metrics == nil {
		return fn
	}
	return h.Metrics.InstrumentHandler(name, fn)
}

// corsMiddleware adds CORS headers for browser dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
