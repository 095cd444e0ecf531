package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/caseledger/pkg/logger"
	"github.com/medrex/caseledger/pkg/types"
)

func staticCheck(status HealthStatus) HealthChecker {
	return NewCustomHealthChecker(func(ctx context.Context) HealthCheck {
		return HealthCheck{Status: status}
	})
}

func TestHealthManager_Aggregation(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]HealthStatus
		want     HealthStatus
		wantCode int
	}{
		{"no checks", nil, HealthStatusHealthy, http.StatusOK},
		{"all healthy", map[string]HealthStatus{"state": HealthStatusHealthy, "files": HealthStatusHealthy}, HealthStatusHealthy, http.StatusOK},
		{"degraded", map[string]HealthStatus{"state": HealthStatusHealthy, "files": HealthStatusDegraded}, HealthStatusDegraded, http.StatusOK},
		{"unhealthy wins", map[string]HealthStatus{"state": HealthStatusUnhealthy, "files": HealthStatusDegraded}, HealthStatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hm := NewHealthManager("caseledger", "test")
			for name, status := range tt.statuses {
				hm.RegisterChecker(name, staticCheck(status))
			}

			rec := httptest.NewRecorder()
			hm.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantCode, rec.Code)

			var report HealthReport
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Checks, len(tt.statuses))
			for i := 1; i < len(report.Checks); i++ {
				assert.Less(t, report.Checks[i-1].Name, report.Checks[i].Name)
			}
		})
	}
}

func TestHealthManager_Timeout(t *testing.T) {
	hm := NewHealthManager("caseledger", "test")
	hm.SetTimeout(20 * time.Millisecond)
	hm.RegisterChecker("slow", NewCustomHealthChecker(func(ctx context.Context) HealthCheck {
		<-ctx.Done()
		return HealthCheck{Status: HealthStatusUnhealthy, Message: ctx.Err().Error()}
	}))

	report := hm.CheckHealth(context.Background())
	require.Len(t, report.Checks, 1)
	assert.Equal(t, HealthStatusUnhealthy, report.Status)
	assert.Equal(t, "slow", report.Checks[0].Name)
}

func TestMetricsCollector(t *testing.T) {
	m := NewMetricsCollector("caseledger")

	m.ObserveLedgerOperation("createCase", "", true, 0.001)
	m.ObserveLedgerOperation("createCase", types.KindUnauthorized, false, 0.002)
	m.ObserveLedgerOperation("createCase", types.KindUnauthorized, false, 0.002)
	m.RecordFileStoreOperation("add", true)
	m.RecordAuthAttempt("jwt", "failure")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerOperationsTotal.WithLabelValues("createCase", "success", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ledgerOperationsTotal.WithLabelValues("createCase", "failure", "Unauthorized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fileStoreOpsTotal.WithLabelValues("add", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authAttemptsTotal.WithLabelValues("jwt", "failure")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ledger_operations_total{error_kind="Unauthorized",operation="createCase",service="caseledger",status="failure"} 2`)
}

func TestMonitoringMiddleware(t *testing.T) {
	m := NewMetricsCollector("caseledger")
	mm := NewMonitoringMiddleware(m, nil, logger.NewNop())

	router := mux.NewRouter()
	router.Use(mm.HTTPMiddleware)
	var seenRequestID string
	router.HandleFunc("/cases/{caseId}", func(w http.ResponseWriter, r *http.Request) {
		seenRequestID = logger.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cases/12", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, rec.Header().Get(RequestIDHeader), seenRequestID)

	req := httptest.NewRequest(http.MethodGet, "/cases/13", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))

	// both requests share one series keyed by the route template
	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(http.MethodGet, "/cases/{caseId}", "404")))
}
