package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/gridcache/internal/filter"
	"github.com/devrev/pairdb/gridcache/internal/health"
	"github.com/devrev/pairdb/gridcache/internal/metrics"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/partition"
	"github.com/devrev/pairdb/gridcache/internal/serialization"
	"github.com/devrev/pairdb/gridcache/internal/server"
	"github.com/devrev/pairdb/gridcache/internal/service"
)

type fixture struct {
	grid     *service.GridService
	sessions *service.SessionService
	health   *health.HealthChecker
	handler  http.Handler
}

type staticMembers []model.Member

func (m staticMembers) Members() []model.Member { return m }

func setupServer(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("member-1", reg)
	events := service.NewEventService(m, logger)
	grid := service.NewGridService(
		&service.GridConfig{LockTimeout: time.Second},
		partition.NewMap(&partition.Config{PartitionCount: 7, LocalMember: "member-1"}, logger),
		events, nil, m, logger)
	sessions := service.NewSessionService(&service.SessionConfig{HeartbeatInterval: time.Second},
		events, serialization.NewRegistry(), m, logger)
	hc := health.NewHealthChecker(&health.Config{MemberID: "member-1"}, logger)
	hc.Register("engine", health.EngineCheck(grid))
	t.Cleanup(func() {
		sessions.CloseAll()
		grid.Stop()
		events.Close()
	})

	srv := server.NewServer(&server.Config{Gatherer: reg}, grid, sessions,
		staticMembers{{ID: "member-1", Local: true}}, hc, logger)
	return &fixture{grid: grid, sessions: sessions, health: hc, handler: srv.GetHandler()}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w.Code
}

type noopListener struct{}

func (noopListener) OnMapEvent(*model.MapEvent) {}

func TestServer_Caches(t *testing.T) {
	f := setupServer(t)
	ctx := context.Background()

	people, err := f.grid.EnsureCache("", "people")
	require.NoError(t, err)
	_, err = f.grid.EnsureCache("tenant-a", "orders")
	require.NoError(t, err)
	_, err = people.Put(ctx, int64(1), "Ada", 0)
	require.NoError(t, err)
	_, err = people.Put(ctx, int64(2), "Alan", 0)
	require.NoError(t, err)
	_, err = people.AddMapListener(ctx, service.ListenerOptions{Key: int64(1), HasKey: true}, noopListener{})
	require.NoError(t, err)
	_, err = people.AddMapListener(ctx, service.ListenerOptions{Filter: filter.AlwaysFilter{}}, noopListener{})
	require.NoError(t, err)

	var list struct {
		Caches []server.CacheInfo `json:"caches"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/v1/caches", &list))
	require.Len(t, list.Caches, 2)
	assert.Equal(t, "people", list.Caches[0].Name)
	assert.Equal(t, "tenant-a", list.Caches[1].Scope)

	var info server.CacheInfo
	require.Equal(t, http.StatusOK, f.get(t, "/v1/caches/_/people", &info))
	assert.Equal(t, 2, info.Size)
	assert.Equal(t, 1, info.KeyListeners)
	assert.Equal(t, 1, info.FilterListeners)
	assert.Equal(t, 0, info.Indexes)

	require.Equal(t, http.StatusOK, f.get(t, "/v1/caches/tenant-a/orders", &info))
	assert.Equal(t, 0, info.Size)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/caches/_/missing", nil))
}

func TestServer_Sessions(t *testing.T) {
	f := setupServer(t)
	_, err := f.sessions.Open(service.OpenRequest{ProtocolVersion: 1, ClientID: "cli-1"})
	require.NoError(t, err)

	var body struct {
		Sessions []service.SessionInfo `json:"sessions"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/v1/sessions", &body))
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "cli-1", body.Sessions[0].ClientID)
	assert.Equal(t, serialization.FormatMsgpack, body.Sessions[0].Format)
}

func TestServer_Partitions(t *testing.T) {
	f := setupServer(t)

	tests := []struct {
		path string
		code int
	}{
		{"/v1/partitions/0", http.StatusOK},
		{"/v1/partitions/6", http.StatusOK},
		{"/v1/partitions/7", http.StatusBadRequest},
		{"/v1/partitions/-1", http.StatusBadRequest},
		{"/v1/partitions/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var p server.PartitionInfo
			assert.Equal(t, tt.code, f.get(t, tt.path, &p))
			if tt.code == http.StatusOK {
				assert.Equal(t, "member-1", p.Owner)
				assert.True(t, p.Local)
			}
		})
	}

	var summary struct {
		Count     int            `json:"count"`
		Ownership map[string]int `json:"ownership"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/v1/partitions", &summary))
	assert.Equal(t, 7, summary.Count)
	assert.Equal(t, map[string]int{"member-1": 7}, summary.Ownership)
}

func TestServer_Members(t *testing.T) {
	f := setupServer(t)
	var body struct {
		Members []model.Member `json:"members"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/v1/members", &body))
	require.Len(t, body.Members, 1)
	assert.True(t, body.Members[0].Local)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	f := setupServer(t)
	f.health.RunChecks(context.Background())

	assert.Equal(t, http.StatusOK, f.get(t, "/health/live", nil))
	assert.Equal(t, http.StatusOK, f.get(t, "/health/ready", nil))

	_, err := f.sessions.Open(service.OpenRequest{ProtocolVersion: 1})
	require.NoError(t, err)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gridcache_gateway_sessions")

	f.grid.Stop()
	f.health.RunChecks(context.Background())
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/health/ready", nil))
}

func TestServer_Routing(t *testing.T) {
	f := setupServer(t)

	tests := []struct {
		method string
		path   string
		code   int
		errTag string
	}{
		{http.MethodPost, "/v1/caches", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{http.MethodDelete, "/v1/partitions/1", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{http.MethodGet, "/v1/unknown", http.StatusNotFound, "NOT_FOUND"},
		{http.MethodGet, "/v2/unknown", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			f.handler.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), tt.errTag)
		})
	}

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/caches", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
