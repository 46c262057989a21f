package service_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/metrics"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/serialization"
	"github.com/devrev/pairdb/gridcache/internal/service"
)

func setupSessions(t *testing.T, cfg *service.SessionConfig) (*service.SessionService, *service.EventService) {
	t.Helper()
	m := metrics.NewMetrics("member-1", prometheus.NewRegistry())
	es := service.NewEventService(m, zap.NewNop())
	t.Cleanup(es.Close)
	return service.NewSessionService(cfg, es, serialization.NewRegistry(), m, zap.NewNop()), es
}

func TestSessionService_Open(t *testing.T) {
	ss, _ := setupSessions(t, &service.SessionConfig{HeartbeatInterval: 10 * time.Second})

	tests := []struct {
		name      string
		req       service.OpenRequest
		code      errors.ErrorCode
		format    string
		heartbeat time.Duration
	}{
		{
			name:      "defaults",
			req:       service.OpenRequest{ProtocolVersion: 1},
			format:    serialization.FormatMsgpack,
			heartbeat: 10 * time.Second,
		},
		{
			name:      "client heartbeat wins",
			req:       service.OpenRequest{ProtocolVersion: 1, Format: "json", HeartbeatInterval: time.Second},
			format:    serialization.FormatJSON,
			heartbeat: time.Second,
		},
		{
			name: "unsupported version",
			req:  service.OpenRequest{ProtocolVersion: 2},
			code: errors.ErrCodeInvalidArgument,
		},
		{
			name: "unsupported format",
			req:  service.OpenRequest{ProtocolVersion: 1, Format: "xml"},
			code: errors.ErrCodeUnsupportedFormat,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ss.Open(tt.req)
			if tt.code != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.code, errors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, s.ID)
			assert.Equal(t, tt.format, s.Format)
			assert.Equal(t, tt.heartbeat, s.HeartbeatInterval)
		})
	}
	assert.Equal(t, 2, ss.Count())
}

func TestSessionService_CloseReleasesRegistrations(t *testing.T) {
	ss, es := setupSessions(t, &service.SessionConfig{})
	cache := model.CacheID{Name: "c"}

	s, err := ss.Open(service.OpenRequest{ProtocolVersion: 1})
	require.NoError(t, err)
	other, err := ss.Open(service.OpenRequest{ProtocolVersion: 1})
	require.NoError(t, err)

	_, err = es.Register(cache, service.ListenerOptions{Owner: s.ID}, &recorder{})
	require.NoError(t, err)
	_, err = es.Register(cache, service.ListenerOptions{Owner: other.ID}, &recorder{})
	require.NoError(t, err)
	lifecycle := service.LifecycleListenerFunc(func(*model.LifecycleEvent) {})
	ss.WatchCache(s, cache, lifecycle)
	ss.WatchCache(s, cache, lifecycle)
	assert.Equal(t, 2, es.OwnerCount(s.ID))

	assert.True(t, ss.Close(s.ID))
	assert.False(t, ss.Close(s.ID))
	assert.Zero(t, es.OwnerCount(s.ID))
	assert.Equal(t, 1, es.OwnerCount(other.ID))

	_, ok := ss.Get(s.ID)
	assert.False(t, ok)
	assert.Len(t, ss.List(), 1)

	assert.Equal(t, 1, ss.CloseAll())
	assert.Zero(t, es.RegistrationCount())
}

func TestSessionService_RateLimit(t *testing.T) {
	ss, _ := setupSessions(t, &service.SessionConfig{RequestsPerSecond: 1, Burst: 2})
	s, err := ss.Open(service.OpenRequest{ProtocolVersion: 1})
	require.NoError(t, err)

	assert.True(t, s.Allow())
	assert.True(t, s.Allow())
	assert.False(t, s.Allow())
	assert.Equal(t, uint64(3), ss.List()[0].Requests)
}
