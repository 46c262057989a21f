package handler

import (
	"context"
	"sync"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/metrics"
	"github.com/devrev/pairdb/gridcache/internal/service"
	"github.com/devrev/pairdb/gridcache/internal/util/workerpool"
	"github.com/devrev/pairdb/gridcache/internal/validation"
	pb "github.com/devrev/pairdb/gridcache/pkg/proto"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Config holds proxy gateway configuration
type Config struct {
	MemberID       string
	Lanes          int
	LaneDepth      int
	PageSize       int
	RequestTimeout time.Duration
	OutboxLimit    int
	StopTimeout    time.Duration
}

// EndpointSource lists the proxy endpoints known to this member
type EndpointSource interface {
	ProxyEndpoints() []string
}

// ProxyServer implements the gridcache proxy service
type ProxyServer struct {
	pb.UnimplementedProxyServiceServer

	config    *Config
	grid      *service.GridService
	sessions  *service.SessionService
	endpoints EndpointSource
	validator *validation.Validator
	pool      *workerpool.WorkerPool
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu       sync.Mutex
	channels map[string]*channel
	stopped  bool
}

// NewProxyServer creates the proxy service. Requests that are not key
// scoped run on pool.
func NewProxyServer(
	cfg *Config,
	grid *service.GridService,
	sessions *service.SessionService,
	endpoints EndpointSource,
	pool *workerpool.WorkerPool,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ProxyServer {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 8
	}
	if cfg.LaneDepth <= 0 {
		cfg.LaneDepth = 128
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.OutboxLimit <= 0 {
		cfg.OutboxLimit = 100000
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &ProxyServer{
		config:    cfg,
		grid:      grid,
		sessions:  sessions,
		endpoints: endpoints,
		validator: validation.NewValidator(),
		pool:      pool,
		metrics:   m,
		logger:    logger,
		channels:  make(map[string]*channel),
	}
}

// Ping returns the server time
func (s *ProxyServer) Ping(ctx context.Context, _ *emptypb.Empty) (*timestamppb.Timestamp, error) {
	return timestamppb.Now(), nil
}

// SubChannel serves one client session. The first request must be an init
// request; the stream then carries requests, responses, events and
// heartbeats until either side closes it.
func (s *ProxyServer) SubChannel(stream pb.ProxyService_SubChannelServer) error {
	if s.Stopped() {
		return status.Error(codes.Unavailable, "proxy service is stopped")
	}

	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Init == nil {
		return stream.Send(errorResponse(first.ID, errors.InvalidArgument("first request must be an init request", nil)))
	}
	if err := s.validator.ValidateScope(first.Init.Scope); err != nil {
		return stream.Send(errorResponse(first.ID, err))
	}

	remote := ""
	if p, ok := peer.FromContext(stream.Context()); ok && p.Addr != nil {
		remote = p.Addr.String()
	}
	sess, err := s.sessions.Open(service.OpenRequest{
		ProtocolVersion:     int(first.Init.ProtocolVersion),
		Scope:               first.Init.Scope,
		Format:              first.Init.Format,
		HeartbeatInterval:   time.Duration(first.Init.HeartbeatMillis) * time.Millisecond,
		RequireHeartbeatAck: first.Init.RequireHeartbeatAck,
		ClientID:            first.Init.ClientID,
		RemoteAddr:          remote,
	})
	if err != nil {
		s.logger.Warn("Rejected session", zap.String("remote_addr", remote), zap.Error(err))
		return stream.Send(errorResponse(first.ID, err))
	}

	ch := newChannel(s, stream, sess)
	if !s.track(ch) {
		s.sessions.Close(sess.ID)
		return status.Error(codes.Unavailable, "proxy service is stopped")
	}
	defer s.untrack(ch)

	ch.send(&pb.ProxyResponse{ID: first.ID, Init: s.initResponse(sess), Complete: true})
	return ch.serve()
}

func (s *ProxyServer) initResponse(sess *service.Session) *pb.InitResponse {
	var endpoints []string
	if s.endpoints != nil {
		endpoints = s.endpoints.ProxyEndpoints()
	}
	return &pb.InitResponse{
		SessionID:           sess.ID,
		MemberID:            s.config.MemberID,
		ProtocolVersion:     int32(sess.ProtocolVersion),
		Format:              sess.Format,
		HeartbeatMillis:     sess.HeartbeatInterval.Milliseconds(),
		RequireHeartbeatAck: sess.RequireHeartbeatAck,
		PartitionCount:      int32(s.grid.Partitions().Count()),
		ProxyEndpoints:      endpoints,
	}
}

// Stopped reports whether Stop has been called
func (s *ProxyServer) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *ProxyServer) track(ch *channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.channels[ch.session.ID] = ch
	return true
}

func (s *ProxyServer) untrack(ch *channel) {
	s.mu.Lock()
	delete(s.channels, ch.session.ID)
	s.mu.Unlock()
}

// ActiveChannels returns the number of open sub-channels
func (s *ProxyServer) ActiveChannels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// Stop closes every sub-channel and releases the registrations of their
// sessions. New sub-channels are refused afterwards.
func (s *ProxyServer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	channels := make([]*channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		ch.cancel()
	}
	released := s.sessions.CloseAll()
	s.logger.Info("Proxy service stopped",
		zap.Int("channels", len(channels)),
		zap.Int("sessions", released))
}
