package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	pb "github.com/devrev/pairdb/gridcache/pkg/proto"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

var (
	errConnectionLost   = errors.New("connection lost")
	errHeartbeatTimeout = errors.New("heartbeat acknowledgement timed out")
)

// pending collects the responses of one request until it completes
type pending struct {
	msgs []*pb.ResponseMessage
	err  error
	done chan struct{}
}

// connection is one sub-channel to one endpoint
type connection struct {
	session  *Session
	endpoint string
	cc       *grpc.ClientConn
	client   pb.ProxyServiceClient
	stream   pb.ProxyService_SubChannelClient
	cancel   context.CancelFunc
	init     *pb.InitResponse
	logger   *zap.Logger

	sendMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]*pending

	failOnce sync.Once
	done     chan struct{}
	err      error

	// unix nanos of the oldest unacknowledged heartbeat
	awaitingAck atomic.Int64
}

// dial opens a sub-channel and completes the init handshake
func (s *Session) dial(ctx context.Context, endpoint string) (*connection, error) {
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, s.opts.DialOptions...)
	cc, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	client := pb.NewProxyServiceClient(cc)
	stream, err := client.SubChannel(streamCtx)
	if err != nil {
		cancel()
		cc.Close()
		return nil, fmt.Errorf("open sub-channel on %s: %w", endpoint, err)
	}

	c := &connection{
		session:  s,
		endpoint: endpoint,
		cc:       cc,
		client:   client,
		stream:   stream,
		cancel:   cancel,
		logger:   s.logger.With(zap.String("endpoint", endpoint)),
		pending:  make(map[int64]*pending),
		done:     make(chan struct{}),
	}

	init, err := c.handshake(ctx)
	if err != nil {
		cancel()
		cc.Close()
		return nil, err
	}
	c.init = init

	go c.recvLoop()
	if s.opts.HeartbeatInterval > 0 {
		go c.heartbeatLoop(s.opts.HeartbeatInterval)
	}
	return c, nil
}

func (c *connection) handshake(ctx context.Context) (*pb.InitResponse, error) {
	s := c.session
	req := &pb.ProxyRequest{
		ID: s.nextID.Add(1),
		Init: &pb.InitRequest{
			ProtocolVersion:     protocolVersion,
			Scope:               s.opts.Scope,
			Format:              s.opts.Format,
			HeartbeatMillis:     s.opts.HeartbeatInterval.Milliseconds(),
			RequireHeartbeatAck: s.opts.RequireHeartbeatAck,
			ClientID:            s.opts.ClientID,
		},
	}
	if err := c.stream.Send(req); err != nil {
		return nil, fmt.Errorf("send init to %s: %w", c.endpoint, err)
	}

	type result struct {
		resp *pb.ProxyResponse
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := c.stream.Recv()
		ch <- result{resp, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("receive init from %s: %w", c.endpoint, r.err)
		}
		if r.resp.Error != nil {
			return nil, fromWire(r.resp.Error)
		}
		if r.resp.Init == nil {
			return nil, fmt.Errorf("endpoint %s did not answer with an init response", c.endpoint)
		}
		return r.resp.Init, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("init on %s: %w", c.endpoint, ctx.Err())
	}
}

func (c *connection) send(req *pb.ProxyRequest) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	select {
	case <-c.done:
		return errConnectionLost
	default:
	}
	return c.stream.Send(req)
}

func (c *connection) recvLoop() {
	for {
		resp, err := c.stream.Recv()
		if err != nil {
			if err != io.EOF && status.Code(err) != codes.Canceled {
				c.logger.Debug("Sub-channel receive failed", zap.Error(err))
			}
			c.fail(err)
			return
		}
		c.handle(resp)
	}
}

func (c *connection) handle(resp *pb.ProxyResponse) {
	s := c.session
	if resp.ID == 0 {
		switch {
		case resp.Event != nil:
			s.dispatchEvent(resp.Event)
		case resp.Lifecycle != nil:
			s.dispatchLifecycle(resp.Lifecycle)
		case resp.Heartbeat != nil:
			s.heartbeatsReceived.Add(1)
			s.lastHeartbeat.Store(time.Now().UnixNano())
		}
		return
	}

	if resp.Heartbeat != nil {
		s.heartbeatsAcked.Add(1)
		s.lastHeartbeat.Store(time.Now().UnixNano())
		c.awaitingAck.Store(0)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[resp.ID]
	if !ok {
		c.logger.Debug("Response for unknown request", zap.Int64("request_id", resp.ID))
		return
	}
	switch {
	case resp.Error != nil:
		p.err = fromWire(resp.Error)
	case resp.Message != nil:
		p.msgs = append(p.msgs, resp.Message)
		if !resp.Complete {
			return
		}
	case !resp.Complete:
		return
	}
	delete(c.pending, resp.ID)
	c.session.complete(func() { close(p.done) })
}

// roundTrip sends one request and waits for all of its responses
func (c *connection) roundTrip(ctx context.Context, msg *pb.NamedCacheRequest) ([]*pb.ResponseMessage, error) {
	id := c.session.nextID.Add(1)
	p := &pending{done: make(chan struct{})}
	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()

	if err := c.send(&pb.ProxyRequest{ID: id, Message: msg}); err != nil {
		c.forget(id)
		c.fail(err)
		return nil, errConnectionLost
	}

	select {
	case <-p.done:
		return p.msgs, p.err
	case <-c.done:
		c.forget(id)
		return nil, errConnectionLost
	case <-ctx.Done():
		c.forget(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, msg.Type)
		}
		return nil, ctx.Err()
	}
}

func (c *connection) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *connection) heartbeatLoop(interval time.Duration) {
	s := c.session
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			if s.opts.RequireHeartbeatAck {
				if since := c.awaitingAck.Load(); since != 0 && now.Sub(time.Unix(0, since)) > s.opts.HeartbeatTimeout {
					c.logger.Warn("Heartbeat not acknowledged, closing sub-channel",
						zap.Duration("timeout", s.opts.HeartbeatTimeout))
					c.fail(errHeartbeatTimeout)
					return
				}
			}
			req := &pb.ProxyRequest{
				ID:        s.nextID.Add(1),
				Heartbeat: &pb.Heartbeat{Ack: s.opts.RequireHeartbeatAck, TimestampMillis: now.UnixMilli()},
			}
			if err := c.send(req); err != nil {
				c.fail(err)
				return
			}
			s.heartbeatsSent.Add(1)
			if s.opts.RequireHeartbeatAck {
				c.awaitingAck.CompareAndSwap(0, now.UnixNano())
			}
		}
	}
}

// fail tears the connection down and hands the session over to failover
func (c *connection) fail(err error) {
	c.failOnce.Do(func() {
		c.err = err
		close(c.done)
		c.cancel()
		c.cc.Close()
		c.session.connectionLost(c, err)
	})
}

// close shuts the connection down without triggering failover
func (c *connection) close() {
	c.failOnce.Do(func() {
		c.err = ErrClosed
		close(c.done)
		c.cancel()
		c.cc.Close()
	})
}
