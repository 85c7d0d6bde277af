package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/interfaces"
)

// Middleware provides common HTTP middleware
type Middleware struct {
	auth interfaces.Auth
}

// NewMiddleware creates a new middleware instance. When no token secret is
// configured the API routes stay open, which is logged once at startup.
func NewMiddleware(ctx context.Context, auth interfaces.Auth) *Middleware {
	if auth == nil || !auth.Enabled() {
		ctxlog.From(ctx).Warn("API token secret is not configured, /api routes are unauthenticated")
	}
	return &Middleware{
		auth: auth,
	}
}

// RequireAuth verifies the Bearer token of API requests (chi compatible)
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.auth == nil || !m.auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		raw := bearerToken(r)
		if raw == "" {
			writeError(w, goerr.New("missing bearer token"), http.StatusUnauthorized)
			return
		}

		token, err := m.auth.VerifyToken(raw)
		if err != nil {
			logger := ctxlog.From(r.Context())
			logger.Debug("Token verification failed",
				"error", err,
				"remote", r.RemoteAddr,
			)
			writeError(w, goerr.New("invalid bearer token"), http.StatusUnauthorized)
			return
		}

		logger := ctxlog.From(r.Context())
		logger.Debug("Authenticated request",
			"subject", token.Subject(),
		)

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from the Authorization header
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// LoggingMiddleware creates a chi-compatible logging middleware
func LoggingMiddleware(ctx context.Context) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Embed logger from the initial context into request context
			r = r.WithContext(ctxlog.With(r.Context(), ctxlog.From(ctx)))

			logger := ctxlog.From(r.Context())
			start := time.Now()

			// Wrap response writer to capture status
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			// Process request
			next.ServeHTTP(ww, r)

			// Log request
			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.Query(),
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		})
	}
}
