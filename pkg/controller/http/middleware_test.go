package http_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/harrier/pkg/usecase"
)

func TestRequireAuth(t *testing.T) {
	authUC := usecase.NewAuth([]byte("test-secret"))
	server, _ := setupServer(t, authUC)

	t.Run("Missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/findings", nil)
		w := doRequest(server, req)
		gt.Equal(t, w.Code, http.StatusUnauthorized)
	})

	t.Run("Garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/findings", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		w := doRequest(server, req)
		gt.Equal(t, w.Code, http.StatusUnauthorized)
	})

	t.Run("Wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/findings", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := doRequest(server, req)
		gt.Equal(t, w.Code, http.StatusUnauthorized)
	})

	t.Run("Valid token", func(t *testing.T) {
		token, err := authUC.IssueToken("ci-pipeline", time.Hour)
		gt.NoError(t, err).Required()

		req := httptest.NewRequest(http.MethodGet, "/api/findings", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := doRequest(server, req)
		gt.Equal(t, w.Code, http.StatusOK)
	})

	t.Run("Token signed with another secret", func(t *testing.T) {
		other := usecase.NewAuth([]byte("other-secret"))
		token, err := other.IssueToken("ci-pipeline", time.Hour)
		gt.NoError(t, err).Required()

		req := httptest.NewRequest(http.MethodGet, "/api/findings", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := doRequest(server, req)
		gt.Equal(t, w.Code, http.StatusUnauthorized)
	})

	t.Run("Health stays open", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := doRequest(server, req)
		gt.Equal(t, w.Code, http.StatusOK)
	})

	t.Run("Metrics stay open", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w := doRequest(server, req)
		gt.Equal(t, w.Code, http.StatusOK)
	})
}

func TestAuthDisabled(t *testing.T) {
	t.Run("Nil auth leaves the API open", func(t *testing.T) {
		server, _ := setupServer(t, nil)
		req := httptest.NewRequest(http.MethodGet, "/api/findings", nil)
		w := doRequest(server, req)
		gt.Equal(t, w.Code, http.StatusOK)
	})

	t.Run("Auth without a secret leaves the API open", func(t *testing.T) {
		server, _ := setupServer(t, usecase.NewAuth(nil))
		req := httptest.NewRequest(http.MethodGet, "/api/findings", nil)
		w := doRequest(server, req)
		gt.Equal(t, w.Code, http.StatusOK)
	})
}
