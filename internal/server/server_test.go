package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/config"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/drs"
	"github.com/limiquantix/planner/internal/ha"
	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/repository/memory"
	"github.com/limiquantix/planner/internal/server/middleware"
)

// banInstance needs vm1 to leave n1.
const banInstance = `{
  "instance": {
    "model": {
      "nodes": [
        {"id": "n1", "online": true, "runningVMs": ["vm1"]},
        {"id": "n2", "online": true}
      ]
    },
    "constraints": [{"id": "ban", "vms": ["vm1"], "nodes": ["n1"]}],
    "objective": {"id": "minimizeMTTR"}
  }
}`

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second},
		Solver: config.SolverConfig{TimeLimit: 10 * time.Second, Objective: "minimizeMTTR"},
		DRS: config.DRSConfig{
			AutomationLevel: config.AutomationPartial,
			Interval:        time.Minute,
			OvercommitCPU:   1,
			OvercommitMem:   1,
		},
		Auth: config.AuthConfig{JWTSecret: "test-secret", Issuer: "planner", TokenExpiry: time.Hour},
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST"}},
	}
}

type testServer struct {
	*Server
	repos drs.Repositories
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...ServerOption) *testServer {
	t.Helper()
	repos := drs.Repositories{
		Nodes:    memory.NewNodeRepository(),
		VMs:      memory.NewVMRepository(),
		Policies: memory.NewPolicyRepository(),
		Plans:    memory.NewPlanRepository(),
	}
	engine := drs.NewEngine(drs.Config{DRS: cfg.DRS, Solver: cfg.Solver}, repos, zap.NewNop())
	if cfg.HA.Enabled {
		opts = append(opts, WithHA(ha.NewManager(cfg.HA, repos.Nodes, repos.VMs, engine, engine, zap.NewNop())))
	}
	return &testServer{Server: New(cfg, engine, repos, zap.NewNop(), opts...), repos: repos}
}

func (s *testServer) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body != "" {
		rd = strings.NewReader(body)
	} else {
		rd = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeRecord(t *testing.T, rec *httptest.ResponseRecorder) domain.PlanRecord {
	t.Helper()
	var p domain.PlanRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p), rec.Body.String())
	return p
}

func TestProbes(t *testing.T) {
	s := newTestServer(t, testConfig())

	for _, path := range []string{"/health", "/ready", "/live", "/api/v1/info"} {
		rec := s.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), path)
	}

	rec := s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "planner_http_requests_total")
}

func TestPlans_Workflow(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := s.do(t, http.MethodPost, "/api/v1/plans", banInstance)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeRecord(t, rec)
	assert.Equal(t, domain.PlanStatusPending, created.Status)
	assert.Equal(t, domain.PlanSourceAPI, created.Source)
	assert.Equal(t, []plan.Action{plan.MigrateVM("vm1", "n1", "n2", 0, 1)}, created.Actions)

	rec = s.do(t, http.MethodGet, "/api/v1/plans/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodeRecord(t, rec).ID)

	rec = s.do(t, http.MethodGet, "/api/v1/plans?status=PENDING&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Plans []domain.PlanRecord `json:"plans"`
		Total int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	rec = s.do(t, http.MethodPost, "/api/v1/plans/"+created.ID+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PlanStatusApproved, decodeRecord(t, rec).Status)

	rec = s.do(t, http.MethodPost, "/api/v1/plans/"+created.ID+"/approve", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// The instance is not the inventory: the plan cannot be replayed on it.
	rec = s.do(t, http.MethodPost, "/api/v1/plans/"+created.ID+"/apply", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/plans/"+created.ID, "")
	assert.Equal(t, domain.PlanStatusFailed, decodeRecord(t, rec).Status)
}

func TestPlans_Reject(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := s.do(t, http.MethodPost, "/api/v1/plans", banInstance)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeRecord(t, rec).ID

	rec = s.do(t, http.MethodPost, "/api/v1/plans/"+id+"/reject", `{"reason":"maintenance window"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeRecord(t, rec)
	assert.Equal(t, domain.PlanStatusRejected, got.Status)
	assert.Equal(t, "maintenance window", got.Reason)
}

func TestPlans_Errors(t *testing.T) {
	s := newTestServer(t, testConfig())

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed body", http.MethodPost, "/api/v1/plans", `{"instance":`, http.StatusBadRequest},
		{"unknown constraint", http.MethodPost, "/api/v1/plans",
			`{"instance":{"model":{"nodes":[{"id":"n1","online":true}]},"constraints":[{"id":"teleport"}]}}`,
			http.StatusBadRequest},
		{"unknown vm", http.MethodPost, "/api/v1/plans",
			`{"instance":{"model":{"nodes":[{"id":"n1","online":true}]},"constraints":[{"id":"ban","vms":["vm9"],"nodes":["n1"]}]}}`,
			http.StatusBadRequest},
		{"bad time limit", http.MethodPost, "/api/v1/plans",
			`{"instance":{"model":{"nodes":[{"id":"n1","online":true}]}},"time_limit":"soon"}`,
			http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/plans?limit=x", "", http.StatusBadRequest},
		{"missing plan", http.MethodGet, "/api/v1/plans/nope", "", http.StatusNotFound},
		{"approve missing plan", http.MethodPost, "/api/v1/plans/nope/approve", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestPlans_NoChangeNeeded(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := s.do(t, http.MethodPost, "/api/v1/plans",
		`{"instance":{"model":{"nodes":[{"id":"n1","online":true,"runningVMs":["vm1"]}]}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"plan":null`)
}

func TestDRS_RunAndApply(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := s.do(t, http.MethodPost, "/api/v1/nodes",
		`{"id":"n1","spec":{"cpu_cores":8,"memory_mib":8192},"status":{"phase":"DRAINING"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/api/v1/nodes", `{"id":"n2","spec":{"cpu_cores":8,"memory_mib":8192}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/api/v1/vms",
		`{"id":"vm1","spec":{"cpu_cores":2,"memory_mib":1024},"status":{"state":"RUNNING","node_id":"n1"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/drs/run", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decodeRecord(t, rec)
	assert.Equal(t, domain.PlanSourceDRS, run.Source)
	assert.Equal(t, []plan.Action{plan.MigrateVM("vm1", "n1", "n2", 0, 1)}, run.Actions)

	rec = s.do(t, http.MethodPost, "/api/v1/plans/"+run.ID+"/apply", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.PlanStatusApplied, decodeRecord(t, rec).Status)

	rec = s.do(t, http.MethodGet, "/api/v1/vms/vm1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var vm domain.VirtualMachine
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vm))
	assert.Equal(t, "n2", vm.Status.NodeID)

	rec = s.do(t, http.MethodGet, "/api/v1/drs/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"leader":true`)
}

func TestHA_HeartbeatAndFailover(t *testing.T) {
	cfg := testConfig()
	cfg.HA = config.HAConfig{Enabled: true, CheckInterval: time.Second, HeartbeatTimeout: time.Minute, FailureThreshold: 3}
	s := newTestServer(t, cfg)
	ctx := context.Background()
	for _, id := range []string{"n1", "n2"} {
		_, err := s.repos.Nodes.Create(ctx, &domain.Node{
			ID:     id,
			Spec:   domain.NodeSpec{CPUCores: 8, MemoryMiB: 8192},
			Status: domain.NodeStatus{Phase: domain.NodePhaseReady},
		})
		require.NoError(t, err)
	}
	_, err := s.repos.VMs.Create(ctx, &domain.VirtualMachine{
		ID:     "vm1",
		Spec:   domain.VMSpec{CPUCores: 2, MemoryMiB: 1024, AutoRestart: true},
		Status: domain.VMStatus{State: domain.VMStateRunning, NodeID: "n1"},
	})
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/v1/nodes/n1/heartbeat", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"last_heartbeat"`)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/v1/nodes/n9/heartbeat", "").Code)

	rec = s.do(t, http.MethodPost, "/api/v1/nodes/n1/failover", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"FAILED"`)

	n1, err := s.repos.Nodes.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.NodePhaseOffline, n1.Status.Phase)
	vm, err := s.repos.VMs.Get(ctx, "vm1")
	require.NoError(t, err)
	assert.Equal(t, domain.VMStateStopped, vm.Status.State)
	assert.Equal(t, domain.VMStateRunning, vm.Spec.DesiredState)

	rec = s.do(t, http.MethodGet, "/api/v1/ha/nodes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"node_id":"n1"`)
}

func TestHA_Disabled(t *testing.T) {
	s := newTestServer(t, testConfig())
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodPost, "/api/v1/nodes/n1/heartbeat", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/api/v1/ha/nodes", "").Code)
}

func TestInventory_Validation(t *testing.T) {
	s := newTestServer(t, testConfig())
	ctx := context.Background()
	_, err := s.repos.Nodes.Create(ctx, &domain.Node{ID: "n1", Status: domain.NodeStatus{Phase: domain.NodePhaseReady}})
	require.NoError(t, err)
	_, err = s.repos.VMs.Create(ctx, &domain.VirtualMachine{
		ID:     "vm1",
		Status: domain.VMStatus{State: domain.VMStateRunning, NodeID: "n1"},
	})
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/v1/vms", `{"id":"vm2","status":{"state":"RUNNING","node_id":"n9"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/nodes", `{"id":"n1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/nodes/n1", `{"id":"n2","status":{"phase":"READY"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/nodes/n1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/policies", `{"name":"x","type":"teleport","enabled":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/policies", `{"name":"web","type":"spread","enabled":true,"vm_ids":["vm1"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/policies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = s.do(t, http.MethodDelete, "/api/v1/vms/vm1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/v1/nodes/n1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = true
	s := newTestServer(t, cfg)
	jwtManager := middleware.NewJWTManager(cfg.Auth)

	viewer, err := jwtManager.Generate("bob", false)
	require.NoError(t, err)
	operator, err := jwtManager.Generate("alice", true)
	require.NoError(t, err)
	forged, err := middleware.NewJWTManager(config.AuthConfig{JWTSecret: "other", Issuer: "planner", TokenExpiry: time.Hour}).Generate("eve", true)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/plans", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/plans", "", "Authorization", viewer).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/plans", "", "Authorization", "Bearer "+forged).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/plans", "", "Authorization", "Bearer "+viewer).Code)

	rec := s.do(t, http.MethodPost, "/api/v1/plans", banInstance, "Authorization", "Bearer "+viewer)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeRecord(t, rec).ID

	rec = s.do(t, http.MethodPost, "/api/v1/plans/"+id+"/approve", "", "Authorization", "Bearer "+viewer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/plans/"+id+"/reject", "", "Authorization", "Bearer "+operator)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rejected by alice", decodeRecord(t, rec).Reason)
}

func TestStreamSolve(t *testing.T) {
	s := newTestServer(t, testConfig())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/plans/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(banInstance)))

	var solutions []streamMessage
	var final streamMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(30*time.Second)))
	for {
		var msg streamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		require.NotEqual(t, "error", msg.Type, msg.Error)
		if msg.Type == "result" {
			final = msg
			break
		}
		solutions = append(solutions, msg)
	}

	require.NotEmpty(t, solutions)
	assert.Equal(t, 1, solutions[0].Index)
	assert.True(t, final.Solved)
	require.NotNil(t, final.Stats)
	assert.Equal(t, len(solutions), final.Stats.NbSolutions())
	assert.Equal(t, []plan.Action{plan.MigrateVM("vm1", "n1", "n2", 0, 1)}, final.Actions)
}

func TestStreamSolve_InvalidRequest(t *testing.T) {
	s := newTestServer(t, testConfig())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/plans/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var buf bytes.Buffer
	buf.WriteString(`{"instance":{"model":{"nodes":[]},"constraints":[{"id":"teleport"}]}}`)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, buf.Bytes()))

	var msg streamMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "teleport")
}
