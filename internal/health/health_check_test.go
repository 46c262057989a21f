package health_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrev/pairdb/gridcache/internal/health"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeEngine struct {
	running bool
}

func (e *fakeEngine) Running() bool       { return e.running }
func (e *fakeEngine) Stats() (int, int64) { return 2, 40 }

type fakeGateway struct {
	stopped bool
}

func (g *fakeGateway) Stopped() bool       { return g.stopped }
func (g *fakeGateway) ActiveChannels() int { return 3 }

type fakeMembership struct {
	enabled bool
	members int
}

func (m *fakeMembership) Enabled() bool { return m.enabled }
func (m *fakeMembership) Members() []model.Member {
	return make([]model.Member, m.members)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func setupChecker(t *testing.T) (*health.HealthChecker, *fakeEngine, *fakeGateway, *fakeMembership) {
	t.Helper()
	engine := &fakeEngine{running: true}
	gateway := &fakeGateway{}
	members := &fakeMembership{}
	h := health.NewHealthChecker(&health.Config{
		MemberID: "m1",
		Stats:    func() model.HealthMetrics { return model.HealthMetrics{Caches: 2, Entries: 40} },
	}, zap.NewNop())
	h.Register("engine", health.EngineCheck(engine))
	h.Register("gateway", health.GatewayCheck(gateway))
	h.Register("membership", health.MembershipCheck(members))
	return h, engine, gateway, members
}

func TestHealthChecker_Status(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *fakeEngine, g *fakeGateway, m *fakeMembership)
		status model.NodeStatus
		ready  bool
	}{
		{"all healthy", func(*fakeEngine, *fakeGateway, *fakeMembership) {}, model.NodeStatusHealthy, true},
		{"gossip alone", func(_ *fakeEngine, _ *fakeGateway, m *fakeMembership) {
			m.enabled, m.members = true, 1
		}, model.NodeStatusDegraded, true},
		{"gossip with peers", func(_ *fakeEngine, _ *fakeGateway, m *fakeMembership) {
			m.enabled, m.members = true, 3
		}, model.NodeStatusHealthy, true},
		{"grid stopped", func(e *fakeEngine, _ *fakeGateway, _ *fakeMembership) {
			e.running = false
		}, model.NodeStatusUnhealthy, false},
		{"proxy stopped", func(_ *fakeEngine, g *fakeGateway, _ *fakeMembership) {
			g.stopped = true
		}, model.NodeStatusUnhealthy, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, e, g, m := setupChecker(t)
			tt.mutate(e, g, m)

			assert.Equal(t, tt.status, h.RunChecks(context.Background()))
			assert.Equal(t, tt.ready, h.IsReady())
			assert.True(t, h.IsLive())
			assert.Len(t, h.GetChecks(), 3)
		})
	}
}

func TestHealthChecker_StoreCheckDegrades(t *testing.T) {
	h, _, _, _ := setupChecker(t)
	h.Register("stores", health.StoreCheck(pingFunc(func(context.Context) error {
		return stderrors.New("connection refused")
	})))

	assert.Equal(t, model.NodeStatusDegraded, h.RunChecks(context.Background()))
	assert.True(t, h.IsReady())

	var store health.CheckResult
	for _, c := range h.GetChecks() {
		if c.Name == "stores" {
			store = c
		}
	}
	assert.Equal(t, health.StatusWarning, store.Status)
	assert.Equal(t, "connection refused", store.Message)
}

func TestHealthChecker_PanickingCheckIsCritical(t *testing.T) {
	h, _, _, _ := setupChecker(t)
	h.Register("broken", func(context.Context) health.CheckResult { panic("oops") })

	assert.Equal(t, model.NodeStatusUnhealthy, h.RunChecks(context.Background()))
	assert.False(t, h.IsReady())
}

func TestHealthChecker_StatusChangeListener(t *testing.T) {
	h, e, _, _ := setupChecker(t)
	var seen []model.NodeStatus
	h.OnStatusChange(func(s model.NodeStatus) { seen = append(seen, s) })

	h.RunChecks(context.Background())
	e.running = false
	h.RunChecks(context.Background())
	h.RunChecks(context.Background())
	e.running = true
	h.RunChecks(context.Background())

	assert.Equal(t, []model.NodeStatus{model.NodeStatusUnhealthy, model.NodeStatusHealthy}, seen)
}

func TestHealthChecker_DrivesGRPCHealth(t *testing.T) {
	h, e, _, _ := setupChecker(t)
	srv := grpchealth.NewServer()
	h.BindGRPC(srv, "gridcache.ProxyService")

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.Status
	}

	h.RunChecks(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check("gridcache.ProxyService"))

	e.running = false
	h.RunChecks(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("gridcache.ProxyService"))

	e.running = true
	h.RunChecks(context.Background())
	h.Drain()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))
	assert.False(t, h.IsReady())
}

func TestHealthChecker_Handlers(t *testing.T) {
	h, e, _, _ := setupChecker(t)
	h.RunChecks(context.Background())

	w := httptest.NewRecorder()
	h.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Ready   bool                 `json:"ready"`
		Status  string               `json:"status"`
		Metrics model.HealthMetrics  `json:"metrics"`
		Checks  []health.CheckResult `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Ready)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, int64(40), body.Metrics.Entries)
	require.Len(t, body.Checks, 3)
	assert.Equal(t, "engine", body.Checks[0].Name)

	e.running = false
	h.RunChecks(context.Background())
	w = httptest.NewRecorder()
	h.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	h.LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
