package app

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elpiji-erp/elpiji/internal/observability"
	"github.com/elpiji-erp/elpiji/internal/shared"
	_ "github.com/elpiji-erp/elpiji/internal/testing/guard"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return NewRouter(RouterParams{
		Logger:  slog.Default(),
		Config:  &Config{AppEnv: "test"},
		Metrics: observability.NewMetrics(),
	})
}

func TestHealthzIsUnscoped(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpointExposed(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTenantMiddlewareRejectsMissingTenant(t *testing.T) {
	var called bool
	handler := TenantMiddleware(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stock/balances", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, called)
}

func TestTenantMiddlewareScopesContext(t *testing.T) {
	var tenantID, actorID int64
	handler := TenantMiddleware(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID = shared.TenantFromContext(r.Context())
		actorID = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/stock/balances", nil)
	req.Header.Set(HeaderTenantID, "7")
	req.Header.Set(HeaderActorID, "42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(7), tenantID)
	require.Equal(t, int64(42), actorID)
}
