package service

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/metrics"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/serialization"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ProtocolVersion is the only sub-channel protocol version served
const ProtocolVersion = 1

// SessionConfig holds per-session policy
type SessionConfig struct {
	HeartbeatInterval time.Duration
	RequestsPerSecond float64
	Burst             int
}

// OpenRequest carries the parameters a client negotiates at init
type OpenRequest struct {
	ProtocolVersion     int
	Scope               string
	Format              string
	HeartbeatInterval   time.Duration
	RequireHeartbeatAck bool
	ClientID            string
	RemoteAddr          string
}

// Session is the server side of one client sub-channel
type Session struct {
	ID                  string
	ClientID            string
	RemoteAddr          string
	Scope               string
	Format              string
	Serializer          serialization.Serializer
	ProtocolVersion     int
	HeartbeatInterval   time.Duration
	RequireHeartbeatAck bool
	Created             time.Time

	heartbeatsSent     atomic.Uint64
	heartbeatsReceived atomic.Uint64
	lastHeartbeat      atomic.Int64
	requests           atomic.Uint64
	limiter            *rate.Limiter

	mu         sync.Mutex
	lifecycles map[model.CacheID]string
	closed     bool
}

// Allow takes one token from the session's rate limiter
func (s *Session) Allow() bool {
	s.requests.Add(1)
	return s.limiter == nil || s.limiter.Allow()
}

// HeartbeatReceived records a client heartbeat
func (s *Session) HeartbeatReceived() {
	s.heartbeatsReceived.Add(1)
	s.lastHeartbeat.Store(time.Now().UnixMilli())
}

// HeartbeatSent records a server heartbeat
func (s *Session) HeartbeatSent() {
	s.heartbeatsSent.Add(1)
}

// SessionInfo is a point-in-time view of a session
type SessionInfo struct {
	ID                  string    `json:"id"`
	ClientID            string    `json:"client_id,omitempty"`
	RemoteAddr          string    `json:"remote_addr,omitempty"`
	Scope               string    `json:"scope"`
	Format              string    `json:"format"`
	ProtocolVersion     int       `json:"protocol_version"`
	HeartbeatInterval   string    `json:"heartbeat_interval"`
	RequireHeartbeatAck bool      `json:"require_heartbeat_ack"`
	Created             time.Time `json:"created"`
	Requests            uint64    `json:"requests"`
	HeartbeatsSent      uint64    `json:"heartbeats_sent"`
	HeartbeatsReceived  uint64    `json:"heartbeats_received"`
	LastHeartbeat       int64     `json:"last_heartbeat_millis"`
	Registrations       int       `json:"registrations"`
}

// SessionService tracks open sessions and owns their registrations
type SessionService struct {
	config      *SessionConfig
	events      *EventService
	serializers *serialization.Registry
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionService creates a session service
func NewSessionService(
	cfg *SessionConfig,
	events *EventService,
	serializers *serialization.Registry,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SessionService {
	if cfg.HeartbeatInterval < 0 {
		cfg.HeartbeatInterval = 0
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	return &SessionService{
		config:      cfg,
		events:      events,
		serializers: serializers,
		metrics:     m,
		logger:      logger,
		sessions:    make(map[string]*Session),
	}
}

// Open validates an init request and creates a session. The client's
// heartbeat interval wins when set; otherwise the server default applies.
func (ss *SessionService) Open(req OpenRequest) (*Session, error) {
	if req.ProtocolVersion != ProtocolVersion {
		return nil, errors.InvalidArgument("unsupported protocol version", nil).
			WithDetail("version", req.ProtocolVersion).
			WithDetail("supported", ProtocolVersion)
	}
	ser, err := ss.serializers.Get(req.Format)
	if err != nil {
		return nil, err
	}

	interval := req.HeartbeatInterval
	if interval <= 0 {
		interval = ss.config.HeartbeatInterval
	}

	s := &Session{
		ID:                  uuid.New().String(),
		ClientID:            req.ClientID,
		RemoteAddr:          req.RemoteAddr,
		Scope:               req.Scope,
		Format:              ser.Format(),
		Serializer:          ser,
		ProtocolVersion:     req.ProtocolVersion,
		HeartbeatInterval:   interval,
		RequireHeartbeatAck: req.RequireHeartbeatAck,
		Created:             time.Now(),
		lifecycles:          make(map[model.CacheID]string),
	}
	if ss.config.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(ss.config.RequestsPerSecond), ss.config.Burst)
	}

	ss.mu.Lock()
	ss.sessions[s.ID] = s
	n := len(ss.sessions)
	ss.mu.Unlock()
	ss.metrics.UpdateSessions(n)

	ss.logger.Info("Session opened",
		zap.String("session_id", s.ID),
		zap.String("scope", s.Scope),
		zap.String("format", s.Format),
		zap.Duration("heartbeat_interval", s.HeartbeatInterval),
		zap.String("remote_addr", s.RemoteAddr))
	return s, nil
}

// WatchCache registers l for the lifecycle events of cache once per session
func (ss *SessionService) WatchCache(s *Session, cache model.CacheID, l LifecycleListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.lifecycles[cache]; ok {
		return
	}
	reg := ss.events.RegisterLifecycle(cache, s.ID, l)
	s.lifecycles[cache] = reg.ID
}

// Forget drops the lifecycle registration of a cache that went away
func (ss *SessionService) Forget(s *Session, cache model.CacheID) {
	s.mu.Lock()
	delete(s.lifecycles, cache)
	s.mu.Unlock()
}

// Close releases every registration owned by the session
func (ss *SessionService) Close(id string) bool {
	ss.mu.Lock()
	s, ok := ss.sessions[id]
	if ok {
		delete(ss.sessions, id)
	}
	n := len(ss.sessions)
	ss.mu.Unlock()
	if !ok {
		return false
	}
	ss.metrics.UpdateSessions(n)

	s.mu.Lock()
	s.closed = true
	s.lifecycles = map[model.CacheID]string{}
	s.mu.Unlock()

	released := ss.events.UnregisterOwner(s.ID)
	ss.logger.Info("Session closed",
		zap.String("session_id", s.ID),
		zap.Int("released_registrations", released),
		zap.Duration("age", time.Since(s.Created)))
	return true
}

// CloseAll closes every session and returns how many were closed
func (ss *SessionService) CloseAll() int {
	ss.mu.RLock()
	ids := make([]string, 0, len(ss.sessions))
	for id := range ss.sessions {
		ids = append(ids, id)
	}
	ss.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if ss.Close(id) {
			n++
		}
	}
	return n
}

// Get returns an open session
func (ss *SessionService) Get(id string) (*Session, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	s, ok := ss.sessions[id]
	return s, ok
}

// Count returns the number of open sessions
func (ss *SessionService) Count() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// List describes the open sessions ordered by creation time
func (ss *SessionService) List() []SessionInfo {
	ss.mu.RLock()
	sessions := make([]*Session, 0, len(ss.sessions))
	for _, s := range ss.sessions {
		sessions = append(sessions, s)
	}
	ss.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Created.Before(sessions[j].Created) })
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			ID:                  s.ID,
			ClientID:            s.ClientID,
			RemoteAddr:          s.RemoteAddr,
			Scope:               s.Scope,
			Format:              s.Format,
			ProtocolVersion:     s.ProtocolVersion,
			HeartbeatInterval:   s.HeartbeatInterval.String(),
			RequireHeartbeatAck: s.RequireHeartbeatAck,
			Created:             s.Created,
			Requests:            s.requests.Load(),
			HeartbeatsSent:      s.heartbeatsSent.Load(),
			HeartbeatsReceived:  s.heartbeatsReceived.Load(),
			LastHeartbeat:       s.lastHeartbeat.Load(),
			Registrations:       ss.events.OwnerCount(s.ID),
		})
	}
	return out
}
