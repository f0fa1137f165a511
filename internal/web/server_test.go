package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/khoj/internal/config"
	"github.com/kozaktomas/khoj/internal/identify"
	"github.com/kozaktomas/khoj/internal/logger"
	"github.com/kozaktomas/khoj/internal/vectorindex"
)

func testServer(t *testing.T, apiKey string) *Server {
	t.Helper()
	svc, err := identify.Open(t.Context(), identify.Options{
		Dim:   4,
		Index: vectorindex.DefaultConfig(4),
	})
	require.NoError(t, err)

	cfg := &config.Config{Web: config.WebConfig{
		Host:           "127.0.0.1",
		Port:           0,
		MaxUploadBytes: 1 << 20,
		RequestTimeout: 5 * time.Second,
		APIKey:         apiKey,
	}}
	return NewServer(cfg, svc, logger.Nop())
}

func TestRoutes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		status int
	}{
		{"health", http.MethodGet, "/api/v1/health", "", http.StatusOK},
		{"stats", http.MethodGet, "/api/v1/gallery/stats", "", http.StatusOK},
		{"identities", http.MethodGet, "/api/v1/gallery/identities", "", http.StatusOK},
		{"rebuild without key", http.MethodPost, "/api/v1/gallery/rebuild", "", http.StatusUnauthorized},
		{"rebuild with key", http.MethodPost, "/api/v1/gallery/rebuild", "Bearer k3y", http.StatusOK},
		{"enroll without key", http.MethodPost, "/api/v1/faces/enroll", "", http.StatusUnauthorized},
		{"search is open", http.MethodPost, "/api/v1/faces/search", "", http.StatusBadRequest},
		{"unknown", http.MethodGet, "/api/v1/nope", "", http.StatusNotFound},
	}

	router := testServer(t, "k3y").Router()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestRoutesWithoutAPIKey(t *testing.T) {
	router := testServer(t, "").Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/gallery/rebuild", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
