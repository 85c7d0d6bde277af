package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
)

// Server represents the HTTP server
type Server struct {
	*http.Server
	router     chi.Router
	ingestUC   interfaces.Ingest
	findingsUC interfaces.Findings
	repo       interfaces.Repository
}

// NewServer creates a new HTTP server. The auth use case may be nil, which
// leaves the API routes unauthenticated.
func NewServer(
	ctx context.Context,
	addr string,
	ingestUC interfaces.Ingest,
	findingsUC interfaces.Findings,
	authUC interfaces.Auth,
	repo interfaces.Repository,
) (*Server, error) {
	if addr == "" {
		return nil, goerr.New("server address is required")
	}
	if ingestUC == nil {
		return nil, goerr.New("ingest use case is required")
	}
	if findingsUC == nil {
		return nil, goerr.New("findings use case is required")
	}
	if repo == nil {
		return nil, goerr.New("repository is required")
	}

	router := chi.NewRouter()
	authMiddleware := NewMiddleware(ctx, authUC)

	// Apply global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggingMiddleware(ctx))
	router.Use(middleware.Recoverer)

	server := &Server{
		Server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
		},
		router:     router,
		ingestUC:   ingestUC,
		findingsUC: findingsUC,
		repo:       repo,
	}

	// Health check and metrics stay outside authentication so probes and
	// scrapers need no token
	router.Get("/health", handleHealth)
	router.Handle("/metrics", promhttp.Handler())

	// API routes
	router.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.RequireAuth)

		r.Route("/scans", func(r chi.Router) {
			r.Post("/", server.handleIngestScan)
			r.Get("/", server.handleListScans)
			r.Get("/{id}", server.handleGetScan)
		})

		r.Route("/findings", func(r chi.Router) {
			r.Get("/", server.handleListFindings)
			r.Get("/{id}", server.handleGetFinding)
			r.Post("/{id}/resolve", server.handleResolveFinding)
		})

		r.Get("/changelog", server.handleChangelog)
	})

	return server, nil
}

// handleHealth handles health check requests
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "harrier",
	}); err != nil {
		ctxlog.From(r.Context()).Error("Failed to encode health response", "error", err)
	}
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		ctxlog.From(context.Background()).Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func writeError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	var message string
	if goErr := goerr.Unwrap(err); goErr != nil {
		message = goErr.Error()
	} else {
		message = err.Error()
	}

	if err := json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	}); err != nil {
		// Can't get context here, so use background context
		ctxlog.From(context.Background()).Error("Failed to encode error response", "error", err)
	}
}
