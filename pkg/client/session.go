// Package client is the Go client of the gridcache proxy service. A
// Session holds one sub-channel to a proxy endpoint, fails over between
// endpoints and re-registers listeners when the channel breaks. Caches are
// used through the typed NamedCache.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/serialization"
	pb "github.com/devrev/pairdb/gridcache/pkg/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/protobuf/types/known/emptypb"
)

const (
	protocolVersion = 1
	heldEventTTL    = time.Minute
)

// SessionLifecycleEventType is the kind of a session lifecycle event
type SessionLifecycleEventType string

const (
	Connected    SessionLifecycleEventType = "connected"
	Disconnected SessionLifecycleEventType = "disconnected"
	Reconnected  SessionLifecycleEventType = "reconnected"
	Closed       SessionLifecycleEventType = "closed"
)

// SessionLifecycleEvent reports a change of the session's connection
type SessionLifecycleEvent struct {
	Type     SessionLifecycleEventType
	Endpoint string
	Err      error
}

// HeartbeatStats describes the liveness state of the session's channel
type HeartbeatStats struct {
	ProtocolVersion     int32
	HeartbeatInterval   time.Duration
	RequireHeartbeatAck bool
	LastHeartbeatTime   time.Time
	HeartbeatsSent      uint64
	HeartbeatsAcked     uint64
	HeartbeatsReceived  uint64
}

// Session is a connection to the grid pinned to one serializer
type Session struct {
	id     string
	opts   *SessionOptions
	codec  codec
	logger *zap.Logger

	nextID atomic.Int64

	heartbeatsSent     atomic.Uint64
	heartbeatsAcked    atomic.Uint64
	heartbeatsReceived atomic.Uint64
	lastHeartbeat      atomic.Int64

	mu        sync.Mutex
	conn      *connection
	ready     chan struct{}
	failure   error
	closed    bool
	endpoints []string
	cursor    int
	remote    string
	caches    map[string]cacheHandle
	listeners []func(SessionLifecycleEvent)
	opening   singleflight.Group

	regMu         sync.RWMutex
	registrations map[string]*registration
	byServerID    map[string]*registration
	held          map[string]*heldEvents

	events *eventQueue
	// synchronous events queued and not yet delivered
	syncPending atomic.Int64
}

// cacheHandle is the session's view of a NamedCache of any type
type cacheHandle interface {
	onLifecycle(t LifecycleEventType)
}

// registration is a listener registration the session re-creates after
// failover. The id is stable; serverID changes with every registration on
// the server.
type registration struct {
	id          string
	cache       string
	request     *pb.NamedCacheRequest
	serverID    string
	synchronous bool
	deliver     func(*pb.MapEventMessage)
}

// heldEvents are events that arrived before their registration response
type heldEvents struct {
	since  time.Time
	events []*pb.MapEventMessage
}

// NewSession connects to the first reachable endpoint. Endpoints are tried
// in order until the reconnect timeout expires.
//
//	session, err := client.NewSession(ctx,
//	    client.WithAddresses("grid-a:1408", "grid-b:1408"),
//	    client.WithFormat("json"),
//	    client.WithHeartbeat(5*time.Second))
func NewSession(ctx context.Context, options ...func(*SessionOptions)) (*Session, error) {
	opts := &SessionOptions{}
	for _, f := range options {
		f(opts)
	}
	opts.setDefaults()

	ser, err := serialization.NewRegistry().Get(opts.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidArgument, opts.Format)
	}
	opts.Format = ser.Format()

	s := &Session{
		id:            uuid.NewString(),
		opts:          opts,
		codec:         codec{ser: ser},
		logger:        opts.Logger.With(zap.String("component", "gridcache-client")),
		ready:         make(chan struct{}),
		endpoints:     append([]string(nil), opts.Addresses...),
		caches:        make(map[string]cacheHandle),
		registrations: make(map[string]*registration),
		byServerID:    make(map[string]*registration),
		held:          make(map[string]*heldEvents),
		events:        newEventQueue(),
	}

	c, err := s.establish(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.mu.Lock()
	s.conn = c
	close(s.ready)
	s.mu.Unlock()
	s.notify(SessionLifecycleEvent{Type: Connected, Endpoint: c.endpoint})
	return s, nil
}

// ID returns the client side identifier of the session
func (s *Session) ID() string {
	return s.id
}

// ServerSessionID returns the identifier the server assigned to the
// current channel
func (s *Session) ServerSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.init.SessionID
}

// Endpoint returns the endpoint of the current channel
func (s *Session) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.endpoint
}

// Format returns the negotiated serialization format
func (s *Session) Format() string {
	return s.opts.Format
}

// Options returns the session options
func (s *Session) Options() *SessionOptions {
	return s.opts
}

func (s *Session) String() string {
	return fmt.Sprintf("Session{id=%s, endpoint=%s, closed=%v, options=%v}", s.id, s.Endpoint(), s.IsClosed(), s.opts)
}

// IsClosed reports whether Close was called
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// HeartbeatStats returns the heartbeat counters of the session. Counters
// survive failover.
func (s *Session) HeartbeatStats() HeartbeatStats {
	stats := HeartbeatStats{
		HeartbeatInterval:   s.opts.HeartbeatInterval,
		RequireHeartbeatAck: s.opts.RequireHeartbeatAck,
		HeartbeatsSent:      s.heartbeatsSent.Load(),
		HeartbeatsAcked:     s.heartbeatsAcked.Load(),
		HeartbeatsReceived:  s.heartbeatsReceived.Load(),
	}
	if last := s.lastHeartbeat.Load(); last != 0 {
		stats.LastHeartbeatTime = time.Unix(0, last)
	}
	s.mu.Lock()
	if s.conn != nil {
		stats.ProtocolVersion = s.conn.init.ProtocolVersion
		stats.HeartbeatInterval = time.Duration(s.conn.init.HeartbeatMillis) * time.Millisecond
	}
	s.mu.Unlock()
	return stats
}

// Ping returns the server time of the current endpoint
func (s *Session) Ping(ctx context.Context) (time.Time, error) {
	c, err := s.connection(ctx)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := c.client.Ping(ctx, &emptypb.Empty{})
	if err != nil {
		return time.Time{}, fmt.Errorf("ping %s: %w", c.endpoint, err)
	}
	return ts.AsTime(), nil
}

// AddSessionLifecycleListener registers fn for connection changes
func (s *Session) AddSessionLifecycleListener(fn func(SessionLifecycleEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Close closes the channel. Registrations held by the server for this
// session are released.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	c := s.conn
	s.conn = nil
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
	s.mu.Unlock()

	if c != nil {
		c.close()
	}
	s.notify(SessionLifecycleEvent{Type: Closed})
	s.events.close()
}

func (s *Session) notify(ev SessionLifecycleEvent) {
	s.mu.Lock()
	listeners := append([]func(SessionLifecycleEvent){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// connection returns the live channel, waiting while failover is in progress
func (s *Session) connection(ctx context.Context) (*connection, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if s.failure != nil {
			err := s.failure
			s.mu.Unlock()
			return nil, err
		}
		if s.conn != nil {
			c := s.conn
			s.mu.Unlock()
			return c, nil
		}
		ready := s.ready
		s.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: waiting for reconnection", ErrTimeout)
			}
			return nil, ctx.Err()
		}
	}
}

// execute runs a request. A request that fails because the channel broke
// is sent once more on the next channel.
func (s *Session) execute(ctx context.Context, msg *pb.NamedCacheRequest) ([]*pb.ResponseMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}
	if deadline, ok := ctx.Deadline(); ok {
		if ms := time.Until(deadline).Milliseconds(); ms > 0 {
			msg.TimeoutMillis = ms
		}
	}

	for attempt := 0; ; attempt++ {
		c, err := s.connection(ctx)
		if err != nil {
			return nil, err
		}
		msgs, err := c.roundTrip(ctx, msg)
		if errors.Is(err, errConnectionLost) {
			if attempt == 0 {
				s.logger.Debug("Retrying request after channel loss",
					zap.String("type", msg.Type.String()),
					zap.String("cache", msg.Cache))
				continue
			}
			return nil, fmt.Errorf("%w: %s", ErrNoEndpoint, msg.Type)
		}
		return msgs, err
	}
}

// single runs a request that answers with one message
func (s *Session) single(ctx context.Context, msg *pb.NamedCacheRequest) (*pb.ResponseMessage, error) {
	msgs, err := s.execute(ctx, msg)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return &pb.ResponseMessage{}, nil
	}
	return msgs[0], nil
}

// establish walks the endpoints round robin until one accepts a channel or
// the reconnect timeout expires
func (s *Session) establish(ctx context.Context) (*connection, error) {
	deadline := time.Now().Add(s.opts.ReconnectTimeout)
	backoff := 50 * time.Millisecond
	var lastErr error
	for {
		if s.IsClosed() {
			return nil, ErrClosed
		}
		endpoint := s.nextEndpoint()
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
		c, err := s.dial(attemptCtx, endpoint)
		cancel()
		if err == nil {
			s.discover(c.init.ProxyEndpoints)
			s.logger.Info("Connected to proxy endpoint",
				zap.String("endpoint", endpoint),
				zap.String("session_id", c.init.SessionID),
				zap.String("member_id", c.init.MemberID),
				zap.String("format", c.init.Format))
			return c, nil
		}

		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.Code != pb.CodeUnavailable {
			// the endpoint rejected the init request itself
			return nil, err
		}
		lastErr = err
		s.logger.Debug("Endpoint unreachable", zap.String("endpoint", endpoint), zap.Error(err))

		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoEndpoint, lastErr)
		}
		select {
		case <-time.After(min(backoff, remaining)):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNoEndpoint, ctx.Err())
		}
		backoff = min(2*backoff, time.Second)
	}
}

func (s *Session) nextEndpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	endpoint := s.endpoints[s.cursor%len(s.endpoints)]
	s.cursor++
	return endpoint
}

func (s *Session) discover(endpoints []string) {
	if !s.opts.DiscoverEndpoints {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	known := make(map[string]bool, len(s.endpoints))
	for _, e := range s.endpoints {
		known[e] = true
	}
	for _, e := range endpoints {
		if e != "" && !known[e] {
			s.endpoints = append(s.endpoints, e)
			known[e] = true
		}
	}
}

// connectionLost starts failover when the current channel breaks
func (s *Session) connectionLost(c *connection, err error) {
	s.mu.Lock()
	if s.closed || s.conn != c {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.ready = make(chan struct{})
	s.mu.Unlock()

	s.logger.Warn("Lost proxy channel", zap.String("endpoint", c.endpoint), zap.Error(err))
	s.notify(SessionLifecycleEvent{Type: Disconnected, Endpoint: c.endpoint, Err: err})
	go s.reconnect()
}

func (s *Session) reconnect() {
	for {
		c, err := s.establish(context.Background())
		if err != nil {
			s.mu.Lock()
			if !s.closed {
				s.failure = err
				close(s.ready)
			}
			s.mu.Unlock()
			s.logger.Error("Failover gave up", zap.Error(err))
			s.notify(SessionLifecycleEvent{Type: Disconnected, Err: err})
			return
		}

		s.reregister(c)
		select {
		case <-c.done:
			// lost again while re-registering
			continue
		default:
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			c.close()
			return
		}
		s.conn = c
		close(s.ready)
		s.mu.Unlock()
		s.notify(SessionLifecycleEvent{Type: Reconnected, Endpoint: c.endpoint})
		return
	}
}

// reregister re-creates every live listener registration on a new channel
func (s *Session) reregister(c *connection) {
	s.regMu.RLock()
	regs := make([]*registration, 0, len(s.registrations))
	for _, r := range s.registrations {
		regs = append(regs, r)
	}
	s.regMu.RUnlock()

	for _, r := range regs {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
		req := *r.request
		req.Priming = false
		msgs, err := c.roundTrip(ctx, &req)
		cancel()
		if err != nil {
			s.logger.Warn("Failed to re-register listener",
				zap.String("cache", r.cache),
				zap.String("registration_id", r.id),
				zap.Error(err))
			continue
		}
		if len(msgs) > 0 {
			s.bind(r, msgs[0].RegistrationID)
		}
	}
	if len(regs) > 0 {
		s.logger.Info("Re-registered listeners", zap.Int("count", len(regs)), zap.String("endpoint", c.endpoint))
	}
}

// register records a new registration under the ID the server returned
func (s *Session) register(r *registration, serverID string) {
	s.regMu.Lock()
	s.registrations[r.id] = r
	s.regMu.Unlock()
	s.bind(r, serverID)
}

func (s *Session) bind(r *registration, serverID string) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	if r.serverID != "" {
		delete(s.byServerID, r.serverID)
	}
	r.serverID = serverID
	s.byServerID[serverID] = r
	if h, ok := s.held[serverID]; ok {
		delete(s.held, serverID)
		for _, ev := range h.events {
			s.deliverLocked(r, ev)
		}
	}
}

func (s *Session) unregister(id string) *registration {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	r, ok := s.registrations[id]
	if !ok {
		return nil
	}
	delete(s.registrations, id)
	delete(s.byServerID, r.serverID)
	return r
}

// dropCache forgets the registrations of a destroyed cache; the server has
// already released them
func (s *Session) dropCache(cache string) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	for id, r := range s.registrations {
		if r.cache == cache {
			delete(s.registrations, id)
			delete(s.byServerID, r.serverID)
		}
	}
}

// removeRegistration unregisters a listener locally and on the server
func (s *Session) removeRegistration(ctx context.Context, cache, id string) (bool, error) {
	r := s.unregister(id)
	if r == nil {
		return false, nil
	}
	msg, err := s.single(ctx, &pb.NamedCacheRequest{
		Type:           pb.RequestRemoveMapListener,
		Cache:          cache,
		RegistrationID: r.serverID,
	})
	if err != nil {
		return false, err
	}
	return msg.Bool, nil
}

// releaseCache removes every registration of cache from the server
func (s *Session) releaseCache(ctx context.Context, cache string) error {
	s.regMu.RLock()
	var ids []string
	for id, r := range s.registrations {
		if r.cache == cache {
			ids = append(ids, id)
		}
	}
	s.regMu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if _, err := s.removeRegistration(ctx, cache, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Session) registrationCount() int {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	return len(s.registrations)
}

// dispatchEvent queues an event for its registration. Priming events reach
// the client before the registration response, so events for an unknown
// registration are held until bind sees its ID.
func (s *Session) dispatchEvent(ev *pb.MapEventMessage) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	r, ok := s.byServerID[ev.RegistrationID]
	if !ok {
		s.holdLocked(ev)
		return
	}
	s.deliverLocked(r, ev)
}

// deliverLocked queues ev for r. Events of synchronous registrations are
// counted until their callback returns; while any are pending, request
// completions queue behind them.
func (s *Session) deliverLocked(r *registration, ev *pb.MapEventMessage) {
	if !r.synchronous {
		s.events.push(func() { r.deliver(ev) })
		return
	}
	s.syncPending.Add(1)
	s.events.push(func() {
		defer s.syncPending.Add(-1)
		r.deliver(ev)
	})
}

// complete runs fn once every synchronous callback queued so far has
// returned
func (s *Session) complete(fn func()) {
	if s.syncPending.Load() == 0 {
		fn()
		return
	}
	s.events.push(fn)
}

func (s *Session) holdLocked(ev *pb.MapEventMessage) {
	now := time.Now()
	for id, h := range s.held {
		if now.Sub(h.since) > heldEventTTL {
			delete(s.held, id)
		}
	}
	h, ok := s.held[ev.RegistrationID]
	if !ok {
		h = &heldEvents{since: now}
		s.held[ev.RegistrationID] = h
	}
	h.events = append(h.events, ev)
}

func (s *Session) dispatchLifecycle(msg *pb.LifecycleMessage) {
	t := LifecycleEventType(msg.Type)
	if t == Destroyed {
		s.dropCache(msg.Cache)
	}
	s.mu.Lock()
	h, ok := s.caches[msg.Cache]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.events.push(func() { h.onLifecycle(t) })
}
