package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zvirb/comandind-sub004/internal/depgraph"
	"github.com/zvirb/comandind-sub004/internal/domain"
	"github.com/zvirb/comandind-sub004/internal/monitor"
	"github.com/zvirb/comandind-sub004/internal/observability"
	"github.com/zvirb/comandind-sub004/internal/provider"
	"github.com/zvirb/comandind-sub004/internal/rollback"
	"github.com/zvirb/comandind-sub004/internal/safety"
)

const testTable = `
dependencies:
  api:
    - depends_on: postgres
      type: critical
      weight: 0.95
    - depends_on: redis
      type: sync
      weight: 0.6
  worker:
    - depends_on: postgres
      type: async
      weight: 0.4
  webui:
    - depends_on: api
      type: critical
      weight: 0.95
`

type fakeLister struct {
	ops []domain.RollbackOperation
	err error
}

func (f fakeLister) ListRollbacks(context.Context, int) ([]domain.RollbackOperation, error) {
	return f.ops, f.err
}

type testServer struct {
	router   *gin.Engine
	esm      *safety.EmergencyStopManager
	provider *provider.Static
	manager  *rollback.Manager
}

func setupTestRouter(t *testing.T, archive RollbackLister) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	table, err := depgraph.ParseTable([]byte(testTable))
	require.NoError(t, err)
	g, err := depgraph.New(table)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWith(reg)
	esm := safety.NewEmergencyStopManager(nil)
	prov := provider.NewStatic(map[string]float64{
		"postgres": 0.95, "redis": 0.95, "api": 0.9, "worker": 0.9, "webui": 0.9,
	})

	mgr, err := rollback.New(rollback.Deps{
		Provider:      prov,
		Graph:         g,
		EmergencyStop: esm,
		Metrics:       metrics,
	}, rollback.Options{})
	require.NoError(t, err)

	mon, err := monitor.New(monitor.Deps{
		Graph:         g,
		Provider:      prov,
		Rollback:      mgr,
		EmergencyStop: esm,
		Metrics:       metrics,
	}, monitor.Options{})
	require.NoError(t, err)

	r := SetupRouter(RouterConfig{
		Dependencies:  NewDependencyHandler(mon),
		Topology:      NewTopologyHandler(g, mon),
		Rollbacks:     NewRollbackHandler(mgr, archive),
		EmergencyStop: esm,
		Metrics:       metrics,
		Gatherer:      reg,
		CORSOrigin:    "http://localhost:5173",
	})
	return &testServer{router: r, esm: esm, provider: prov, manager: mgr}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealthAndEmergencyStop(t *testing.T) {
	s := setupTestRouter(t, nil)

	var body map[string]any
	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	assert.Equal(t, map[string]any{"active": false}, body["emergency_stop"])

	w = s.do(t, http.MethodPost, "/emergency-stop", EmergencyStopRequest{Reason: "bad deploy"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, s.esm.IsTriggered())
	assert.Equal(t, "bad deploy", s.esm.Status().Reason)

	w = s.do(t, http.MethodGet, "/health", nil)
	body = nil
	decode(t, w, &body)
	stop := body["emergency_stop"].(map[string]any)
	assert.Equal(t, true, stop["active"])
	assert.Equal(t, "bad deploy", stop["reason"])

	// Manual rollbacks are refused while stopped
	w = s.do(t, http.MethodPost, "/api/rollbacks", RollbackRequest{Services: []string{"api"}})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = s.do(t, http.MethodPost, "/emergency-stop/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.esm.IsTriggered())
}

func TestCORSPreflight(t *testing.T) {
	s := setupTestRouter(t, nil)
	w := s.do(t, http.MethodOptions, "/api/rollbacks", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestRouter(t, nil)
	s.do(t, http.MethodGet, "/health", nil)

	w := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestDependencyEndpoints(t *testing.T) {
	s := setupTestRouter(t, nil)

	var status monitor.DependencyStatus
	w := s.do(t, http.MethodGet, "/api/dependencies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &status)
	assert.Equal(t, 5, status.Services)
	assert.Equal(t, 4, status.Edges)

	var topo domain.DependencyTopology
	w = s.do(t, http.MethodGet, "/api/dependencies/topology", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &topo)
	assert.Len(t, topo.Nodes, 5)
	assert.Len(t, topo.Edges, 4)

	var path struct {
		Path []string `json:"path"`
	}
	w = s.do(t, http.MethodGet, "/api/dependencies/path?from=postgres&to=webui", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &path)
	assert.Equal(t, []string{"postgres", "api", "webui"}, path.Path)

	w = s.do(t, http.MethodGet, "/api/dependencies/path?from=postgres", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodGet, "/api/dependencies/path?from=postgres&to=billing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var svc struct {
		DirectDependents []string `json:"direct_dependents"`
		AffectedIfDown   []string `json:"affected_if_down"`
	}
	w = s.do(t, http.MethodGet, "/api/dependencies/services/postgres", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &svc)
	assert.ElementsMatch(t, []string{"api", "worker"}, svc.DirectDependents)
}

func TestCascadeEndpoints(t *testing.T) {
	s := setupTestRouter(t, nil)
	s.provider.Set("postgres", 0.1)

	var risk domain.CascadeRisk
	w := s.do(t, http.MethodPost, "/api/dependencies/cascade/postgres", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &risk)
	assert.Equal(t, "postgres", risk.RootService)
	assert.Contains(t, risk.AffectedServices, "api")
	assert.Greater(t, risk.RiskScore, 0.0)

	// webui has no dependents
	var empty map[string]any
	w = s.do(t, http.MethodPost, "/api/dependencies/cascade/webui", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &empty)
	assert.Equal(t, "no dependent services", empty["detail"])

	w = s.do(t, http.MethodPost, "/api/dependencies/cascade/billing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var recent struct {
		RecentRisks []domain.CascadeRisk `json:"recent_risks"`
	}
	w = s.do(t, http.MethodGet, "/api/dependencies/cascade", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &recent)
	require.Len(t, recent.RecentRisks, 1)
}

func TestRollbackEndpoints(t *testing.T) {
	s := setupTestRouter(t, nil)

	// No snapshot yet
	w := s.do(t, http.MethodPost, "/api/rollbacks", RollbackRequest{Services: []string{"api"}})
	assert.Equal(t, http.StatusConflict, w.Code)

	var snap domain.SystemSnapshot
	w = s.do(t, http.MethodPost, "/api/snapshots", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	decode(t, w, &snap)
	assert.True(t, snap.RollbackSafe)

	var snaps struct {
		Total int `json:"total"`
	}
	w = s.do(t, http.MethodGet, "/api/snapshots?safe=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &snaps)
	assert.Equal(t, 1, snaps.Total)

	w = s.do(t, http.MethodGet, "/api/snapshots/"+snap.SnapshotID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/snapshots/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/rollbacks", map[string]any{"services": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, "/api/rollbacks", RollbackRequest{Services: []string{"api", "webui", "worker"}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "blast radius")
	w = s.do(t, http.MethodPost, "/api/rollbacks", RollbackRequest{Services: []string{"billing"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	var op domain.RollbackOperation
	w = s.do(t, http.MethodPost, "/api/rollbacks", RollbackRequest{Services: []string{"api"}, Reason: "bad deploy"})
	require.Equal(t, http.StatusAccepted, w.Code)
	decode(t, w, &op)
	assert.Equal(t, domain.RollbackPending, op.Status)
	assert.Equal(t, snap.SnapshotID, op.TargetSnapshotID)

	w = s.do(t, http.MethodPost, "/api/rollbacks", RollbackRequest{Services: []string{"api"}})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/api/rollbacks/"+op.RollbackID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Status     rollback.Status            `json:"status"`
		Operations []domain.RollbackOperation `json:"operations"`
	}
	w = s.do(t, http.MethodGet, "/api/rollbacks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Equal(t, 1, list.Status.Queued)
	assert.Len(t, list.Operations, 1)

	var cancelled domain.RollbackOperation
	w = s.do(t, http.MethodPost, "/api/rollbacks/"+op.RollbackID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &cancelled)
	assert.Equal(t, domain.RollbackCancelled, cancelled.Status)

	w = s.do(t, http.MethodPost, "/api/rollbacks/"+op.RollbackID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = s.do(t, http.MethodGet, "/api/rollbacks/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestArchivedRollbacks(t *testing.T) {
	s := setupTestRouter(t, nil)
	w := s.do(t, http.MethodGet, "/api/rollbacks?archived=true", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s = setupTestRouter(t, fakeLister{ops: []domain.RollbackOperation{{RollbackID: "old"}}})
	var body struct {
		Operations []domain.RollbackOperation `json:"operations"`
	}
	w = s.do(t, http.MethodGet, "/api/rollbacks?archived=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	require.Len(t, body.Operations, 1)
	assert.Equal(t, "old", body.Operations[0].RollbackID)

	s = setupTestRouter(t, fakeLister{err: errors.New("db down")})
	w = s.do(t, http.MethodGet, "/api/rollbacks?archived=true", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{domain.ErrEmergencyStop, http.StatusServiceUnavailable},
		{domain.ErrBlastRadiusExceeded, http.StatusBadRequest},
		{domain.ErrUnknownService, http.StatusNotFound},
		{domain.ErrSnapshotNotFound, http.StatusNotFound},
		{domain.ErrRollbackActive, http.StatusConflict},
		{domain.ErrNoRollbackTarget, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, statusFor(tt.err))
		})
	}
}
