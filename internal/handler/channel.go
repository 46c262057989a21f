package handler

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/partition"
	"github.com/devrev/pairdb/gridcache/internal/service"
	"github.com/devrev/pairdb/gridcache/internal/util/workerpool"
	pb "github.com/devrev/pairdb/gridcache/pkg/proto"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// channel is one open sub-channel. A single writer goroutine owns
// stream.Send; everything else queues responses on the outbox.
type channel struct {
	server  *ProxyServer
	stream  pb.ProxyService_SubChannelServer
	session *service.Session
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	out        *outbox
	writerDone chan struct{}
	lanes      *workerpool.Lanes
	closeOnce  sync.Once

	mu     sync.Mutex
	caches map[string]*service.Cache
	regs   map[string]model.CacheID
}

func newChannel(s *ProxyServer, stream pb.ProxyService_SubChannelServer, sess *service.Session) *channel {
	ctx, cancel := context.WithCancel(stream.Context())
	logger := s.logger.With(zap.String("session_id", sess.ID))
	return &channel{
		server:     s,
		stream:     stream,
		session:    sess,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		out:        newOutbox(s.config.OutboxLimit),
		writerDone: make(chan struct{}),
		lanes:      workerpool.NewLanes("session-"+sess.ID, s.config.Lanes, s.config.LaneDepth, logger),
		caches:     make(map[string]*service.Cache),
		regs:       make(map[string]model.CacheID),
	}
}

// serve runs the receive loop until the client closes the stream or the
// channel is cancelled
func (c *channel) serve() error {
	go c.writeLoop()
	if c.session.HeartbeatInterval > 0 {
		go c.heartbeatLoop(c.session.HeartbeatInterval)
	}

	requests := make(chan *pb.ProxyRequest)
	recvErr := make(chan error, 1)
	go func() {
		for {
			req, err := c.stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case requests <- req:
			case <-c.ctx.Done():
				return
			}
		}
	}()

	var result error
loop:
	for {
		select {
		case req := <-requests:
			c.handle(req)
		case err := <-recvErr:
			if err != io.EOF && status.Code(err) != codes.Canceled {
				c.logger.Debug("Sub-channel receive failed", zap.Error(err))
			}
			break loop
		case <-c.ctx.Done():
			if c.out.overflowed() {
				result = status.Error(codes.ResourceExhausted, "session outbox overflow")
			}
			break loop
		}
	}

	c.close()
	return result
}

func (c *channel) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if err := c.lanes.Stop(c.server.config.StopTimeout); err != nil {
			c.logger.Warn("Session lanes did not stop", zap.Error(err))
		}
		c.server.sessions.Close(c.session.ID)
		c.out.close()
		<-c.writerDone
	})
}

func (c *channel) writeLoop() {
	defer close(c.writerDone)
	for {
		batch, ok := c.out.take(c.ctx.Done())
		if !ok {
			return
		}
		for _, resp := range batch {
			if err := c.stream.Send(resp); err != nil {
				c.logger.Debug("Sub-channel send failed", zap.Error(err))
				c.cancel()
				return
			}
		}
	}
}

// heartbeatLoop sends a server heartbeat whenever the stream has been idle
// for a full interval
func (c *channel) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(c.out.lastActivity()) < interval {
				continue
			}
			c.send(&pb.ProxyResponse{Heartbeat: &pb.Heartbeat{TimestampMillis: now.UnixMilli()}})
			c.session.HeartbeatSent()
			c.server.metrics.RecordHeartbeatSent()
		}
	}
}

// send queues a response without blocking
func (c *channel) send(resp *pb.ProxyResponse) {
	if !c.out.push(resp) && c.out.overflowed() {
		c.logger.Warn("Session outbox overflow, closing sub-channel")
		c.cancel()
	}
}

func (c *channel) handle(req *pb.ProxyRequest) {
	switch {
	case req.Heartbeat != nil:
		c.session.HeartbeatReceived()
		c.server.metrics.RecordHeartbeatReceived()
		if c.session.RequireHeartbeatAck || req.Heartbeat.Ack {
			c.send(&pb.ProxyResponse{
				ID:        req.ID,
				Heartbeat: &pb.Heartbeat{TimestampMillis: time.Now().UnixMilli()},
				Complete:  true,
			})
		}
	case req.Init != nil:
		c.send(errorResponse(req.ID, errors.InvalidArgument("session is already initialized", nil)))
	case req.Message != nil:
		c.submit(req.ID, req.Message)
	default:
		c.send(errorResponse(req.ID, errors.InvalidArgument("request is empty", nil)))
	}
}

// call is a decoded request ready to run
type call struct {
	id        int64
	msg       *pb.NamedCacheRequest
	key       any
	hasKey    bool
	partition int
	start     time.Time
}

// submit validates a request and hands it to its lane or the shared pool
func (c *channel) submit(id int64, msg *pb.NamedCacheRequest) {
	cl := &call{id: id, msg: msg, start: time.Now()}
	if !c.session.Allow() {
		c.finish(cl, errors.Unavailable("request rate limit exceeded", nil))
		return
	}
	if err := c.server.validator.ValidateRequest(msg); err != nil {
		c.finish(cl, err)
		return
	}
	if err := c.route(cl); err != nil {
		c.finish(cl, err)
		return
	}

	task := workerpool.Task{
		Name:    msg.Type.String(),
		Context: c.ctx,
		Fn: func(ctx context.Context) error {
			c.execute(ctx, cl)
			return nil
		},
	}
	var err error
	if cl.hasKey {
		err = c.lanes.Submit(c.ctx, c.lanes.Lane(cl.partition), task)
	} else {
		err = c.server.pool.Submit(task)
	}
	if err != nil {
		c.finish(cl, err)
	}
}

// route decodes the key of a key-scoped request and validates its routing
// hints. The resulting partition selects the request's lane.
func (c *channel) route(cl *call) error {
	msg := cl.msg
	if !keyScoped(msg) {
		return nil
	}
	key, err := c.decode(msg.Key, "key")
	if err != nil {
		return err
	}
	var hint *partition.Hint
	if len(msg.AssociatedKey) > 0 || msg.Partition != nil {
		hint = &partition.Hint{}
		if len(msg.AssociatedKey) > 0 {
			assoc, err := c.decode(msg.AssociatedKey, "associated key")
			if err != nil {
				return err
			}
			hint.AssociatedKey, hint.HasAssociatedKey = assoc, true
		}
		if msg.Partition != nil {
			p := int(*msg.Partition)
			hint.Partition = &p
		}
	}
	p, err := c.server.grid.Partitions().Route(key, hint)
	if err != nil {
		return err
	}
	cl.key, cl.hasKey, cl.partition = key, true, p
	return nil
}

func keyScoped(msg *pb.NamedCacheRequest) bool {
	switch msg.Type {
	case pb.RequestGet, pb.RequestGetOrDefault, pb.RequestPut, pb.RequestPutIfAbsent,
		pb.RequestRemove, pb.RequestRemoveMapping, pb.RequestReplace, pb.RequestReplaceMapping,
		pb.RequestContainsKey, pb.RequestContainsEntry, pb.RequestInvoke:
		return true
	case pb.RequestAddMapListener:
		return len(msg.Key) > 0
	}
	return false
}

func (c *channel) execute(ctx context.Context, cl *call) {
	if err := ctx.Err(); err != nil {
		return
	}
	timeout := c.server.config.RequestTimeout
	if cl.msg.TimeoutMillis > 0 {
		timeout = time.Duration(cl.msg.TimeoutMillis) * time.Millisecond
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	c.finish(cl, c.dispatch(ctx, cl))
}

// finish sends the error of a failed request and records the outcome
func (c *channel) finish(cl *call, err error) {
	outcome := "success"
	if err != nil {
		outcome = outcomeOf(err)
		c.send(errorResponse(cl.id, err))
		c.logger.Debug("Request failed",
			zap.String("type", cl.msg.Type.String()),
			zap.String("cache", cl.msg.Cache),
			zap.Error(err))
	}
	c.server.metrics.RecordRequest(cl.msg.Type.String(), outcome, time.Since(cl.start).Seconds())
}

// outbox is an unbounded response queue with an optional overflow limit
type outbox struct {
	mu       sync.Mutex
	items    []*pb.ProxyResponse
	signal   chan struct{}
	closed   bool
	limit    int
	overflow atomic.Bool
	last     atomic.Int64
}

func newOutbox(limit int) *outbox {
	o := &outbox{signal: make(chan struct{}, 1), limit: limit}
	o.last.Store(time.Now().UnixNano())
	return o
}

func (o *outbox) push(resp *pb.ProxyResponse) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if o.limit > 0 && len(o.items) >= o.limit {
		o.overflow.Store(true)
		o.mu.Unlock()
		return false
	}
	o.items = append(o.items, resp)
	o.mu.Unlock()
	select {
	case o.signal <- struct{}{}:
	default:
	}
	return true
}

// take waits for queued responses. It returns false once the outbox is
// closed and drained, or done fires.
func (o *outbox) take(done <-chan struct{}) ([]*pb.ProxyResponse, bool) {
	for {
		o.mu.Lock()
		if len(o.items) > 0 {
			batch := o.items
			o.items = nil
			o.mu.Unlock()
			o.last.Store(time.Now().UnixNano())
			return batch, true
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-o.signal:
		case <-done:
			return nil, false
		}
	}
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outbox) overflowed() bool {
	return o.overflow.Load()
}

func (o *outbox) lastActivity() time.Time {
	return time.Unix(0, o.last.Load())
}
