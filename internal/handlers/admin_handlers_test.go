package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"cart-recovery-service/internal/middleware"
	"cart-recovery-service/internal/services"
)

// MockSweepRunner is a mock implementation of SweepRunner
type MockSweepRunner struct {
	mock.Mock
}

func (m *MockSweepRunner) Run(ctx context.Context) (*services.SweepResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SweepResult), args.Error(1)
}

// MockStatsProvider is a mock implementation of StatsProvider
type MockStatsProvider struct {
	mock.Mock
}

func (m *MockStatsProvider) GetAbandonedCartStats(ctx context.Context) (*services.CartStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CartStats), args.Error(1)
}

func (m *MockStatsProvider) Location() *time.Location {
	return time.UTC
}

func setupAdminRouter(sweeper SweepRunner, stats StatsProvider, cronSecret, adminSecret string) *gin.Engine {
	router := gin.New()

	cron := router.Group("/cron")
	cron.Use(middleware.CronAuth(cronSecret))
	cron.GET("/abandoned-cart", NewCronHandler(sweeper).AbandonedCartSweep)

	statsHandler := NewStatsHandler(stats)
	admin := router.Group("/admin")
	admin.Use(middleware.AdminAuth(adminSecret))
	admin.GET("/abandoned-cart-stats", statsHandler.GetStats)
	admin.GET("/abandoned-cart-stats/export", statsHandler.Export)
	return router
}

func TestAbandonedCartSweep(t *testing.T) {
	tests := []struct {
		name       string
		auth       string
		result     *services.SweepResult
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "runs sweep",
			auth:       "Bearer cron-secret",
			result:     &services.SweepResult{Success: true, Sent: 2, Skipped: 5, Failed: 1},
			wantStatus: http.StatusOK,
			wantBody:   `{"success":true,"sent":2,"skipped":5,"failed":1}`,
		},
		{name: "wrong secret", auth: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "no secret", wantStatus: http.StatusUnauthorized},
		{name: "sweep in progress", auth: "Bearer cron-secret", err: services.ErrSweepInProgress, wantStatus: http.StatusConflict},
		{name: "store failure", auth: "Bearer cron-secret", err: errors.New("db down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sweeper := new(MockSweepRunner)
			if tt.result != nil || tt.err != nil {
				sweeper.On("Run", mock.Anything).Return(tt.result, tt.err)
			}

			router := setupAdminRouter(sweeper, new(MockStatsProvider), "cron-secret", "")
			req := httptest.NewRequest(http.MethodGet, "/cron/abandoned-cart", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}
			if tt.wantStatus == http.StatusUnauthorized {
				sweeper.AssertNotCalled(t, "Run", mock.Anything)
			}
		})
	}
}

func sampleStats() *services.CartStats {
	return &services.CartStats{
		All30:       services.WindowStats{Total: 4, Recovered: 1, RecoveryRate: 25},
		Stages:      services.StageCounts{Fresh: 1, AwaitingEmail: 1, Emailed: 1},
		Carts:       []services.CartSummary{{ID: 7, Email: "a@example.com", State: "abandoned", Stage: "fresh"}},
		GeneratedAt: time.Date(2026, 3, 18, 15, 0, 0, 0, time.UTC),
	}
}

func TestGetStats(t *testing.T) {
	stats := new(MockStatsProvider)
	stats.On("GetAbandonedCartStats", mock.Anything).Return(sampleStats(), nil)
	router := setupAdminRouter(new(MockSweepRunner), stats, "cron-secret", "admin-secret")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/abandoned-cart-stats?secret=admin-secret", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"all30"`)
	assert.Contains(t, w.Body.String(), "a@example.com")
}

func TestGetStats_UnauthorizedLeaksNothing(t *testing.T) {
	stats := new(MockStatsProvider)
	router := setupAdminRouter(new(MockSweepRunner), stats, "cron-secret", "admin-secret")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/abandoned-cart-stats?secret=wrong", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), "example.com")
	stats.AssertNotCalled(t, "GetAbandonedCartStats", mock.Anything)
}

func TestGetStats_Error(t *testing.T) {
	stats := new(MockStatsProvider)
	stats.On("GetAbandonedCartStats", mock.Anything).Return(nil, errors.New("db down"))
	router := setupAdminRouter(new(MockSweepRunner), stats, "cron-secret", "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/abandoned-cart-stats", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestExportStats(t *testing.T) {
	stats := new(MockStatsProvider)
	stats.On("GetAbandonedCartStats", mock.Anything).Return(sampleStats(), nil)
	router := setupAdminRouter(new(MockSweepRunner), stats, "cron-secret", "admin-secret")

	req := httptest.NewRequest(http.MethodGet, "/admin/abandoned-cart-stats/export", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=abandoned_carts_2026-03-18.xlsx", w.Header().Get("Content-Disposition"))
	// XLSX files are zip archives
	assert.Equal(t, "PK", w.Body.String()[:2])
}

func TestHealthHandler(t *testing.T) {
	failing := func(context.Context) error { return errors.New("down") }
	passing := func(context.Context) error { return nil }

	tests := []struct {
		name        string
		critical    map[string]DependencyCheck
		optional    map[string]DependencyCheck
		wantHealth  int
		wantReady   int
		wantDegrade bool
	}{
		{
			name:       "all up",
			critical:   map[string]DependencyCheck{"database": passing},
			optional:   map[string]DependencyCheck{"redis": passing},
			wantHealth: http.StatusOK,
			wantReady:  http.StatusOK,
		},
		{
			name:        "optional down",
			critical:    map[string]DependencyCheck{"database": passing},
			optional:    map[string]DependencyCheck{"redis": failing},
			wantHealth:  http.StatusOK,
			wantReady:   http.StatusOK,
			wantDegrade: true,
		},
		{
			name:       "critical down",
			critical:   map[string]DependencyCheck{"database": failing},
			wantHealth: http.StatusServiceUnavailable,
			wantReady:  http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.critical, tt.optional)
			router := gin.New()
			router.GET("/health", h.HealthCheck)
			router.GET("/ready", h.ReadinessCheck)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantHealth, w.Code)

			w = httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.wantReady, w.Code)
			if tt.wantDegrade {
				assert.Contains(t, w.Body.String(), "degraded")
			}
		})
	}
}
