package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jamibilling/rdn-billing/internal/api/middleware"
	"github.com/jamibilling/rdn-billing/internal/history"
	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

type stubCases struct{}

func (stubCases) Login(_ context.Context, sessionID string, _ models.Credentials) (models.AuthResult, string, error) {
	if sessionID == "" {
		sessionID = "generated"
	}
	return models.AuthResult{Success: true}, sessionID, nil
}

func (stubCases) ExtractCase(context.Context, string, string, func(history.Progress)) (*models.CaseRecord, error) {
	return nil, models.NewAuthError("login required")
}

func (stubCases) LookupFee(context.Context, string, string, string, string) (models.FeeLookupResult, error) {
	return models.FeeLookupResult{FeeID: "FD-1"}, nil
}

func (stubCases) Result(context.Context, string) (*models.CaseRecord, error) {
	return nil, models.NewAuthError("login required")
}

func (stubCases) Logout(context.Context, string) error { return nil }

func TestNewRouter(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.RateLimitConfig.Login = middleware.Limit{Requests: 1, Window: time.Minute}

	store := middleware.NewMemoryRateLimitStore()
	defer store.Close()

	ws := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	router := NewRouter(Dependencies{
		Logger:         logger.Nop(),
		Cases:          stubCases{},
		RateLimitStore: store,
		WSHub:          ws,
	}, cfg)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"ready without checkers", http.MethodGet, "/ready", "", http.StatusOK},
		{"websocket", http.MethodGet, "/ws", "", http.StatusTeapot},
		{"login", http.MethodPost, "/api/v1/login", `{"username":"a","password":"b","securityCode":"c"}`, http.StatusOK},
		{"login rate limited", http.MethodPost, "/api/v1/login", `{"username":"a","password":"b","securityCode":"c"}`, http.StatusTooManyRequests},
		{"extract needs login", http.MethodPost, "/api/v1/cases/4417/extract", "", http.StatusUnauthorized},
		{"lookup", http.MethodGet, "/api/v1/fees/lookup?client=Acme", "", http.StatusOK},
		{"debug without storage", http.MethodGet, "/api/v1/debug/4417", "", http.StatusServiceUnavailable},
		{"unknown route", http.MethodGet, "/api/v1/chat", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			req.RemoteAddr = "192.0.2.1:4000"
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestFormatAddr(t *testing.T) {
	assert.Equal(t, ":8080", formatAddr("", 8080))
	assert.Equal(t, "127.0.0.1:9000", formatAddr("127.0.0.1", 9000))
}
