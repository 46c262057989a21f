package client_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/handler"
	"github.com/devrev/pairdb/gridcache/internal/metrics"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/partition"
	"github.com/devrev/pairdb/gridcache/internal/serialization"
	"github.com/devrev/pairdb/gridcache/internal/service"
	"github.com/devrev/pairdb/gridcache/internal/util/workerpool"
	"github.com/devrev/pairdb/gridcache/pkg/client"
	pb "github.com/devrev/pairdb/gridcache/pkg/proto"
	"github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1 << 20

// testCluster is one grid member fronted by one or more proxy endpoints
type testCluster struct {
	grid    *service.GridService
	events  *service.EventService
	metrics *metrics.Metrics

	mu      sync.Mutex
	servers map[string]*testServer
	order   []string
}

type testServer struct {
	lis      *bufconn.Listener
	server   *grpc.Server
	proxy    *handler.ProxyServer
	sessions *service.SessionService
	pool     *workerpool.WorkerPool
	stopped  bool
}

func setupCluster(t *testing.T, endpoints ...string) *testCluster {
	t.Helper()
	if len(endpoints) == 0 {
		endpoints = []string{"proxy-a"}
	}
	logger := zap.NewNop()
	m := metrics.NewMetrics("member-1", prometheus.NewRegistry())
	events := service.NewEventService(m, logger)
	grid := service.NewGridService(
		&service.GridConfig{LockTimeout: time.Second, MaxRetries: 3},
		partition.NewMap(&partition.Config{PartitionCount: 31, LocalMember: "member-1"}, logger),
		events, nil, m, logger)
	grid.Start()

	tc := &testCluster{grid: grid, events: events, metrics: m, servers: make(map[string]*testServer)}
	for _, name := range endpoints {
		tc.start(name)
	}
	t.Cleanup(func() {
		for _, name := range endpoints {
			tc.stop(name)
		}
		grid.Stop()
		events.Close()
	})
	return tc
}

func (tc *testCluster) start(name string) {
	logger := zap.NewNop()
	sessions := service.NewSessionService(&service.SessionConfig{}, tc.events, serialization.NewRegistry(), tc.metrics, logger)
	pool := workerpool.NewWorkerPool(&workerpool.Config{Name: name, MaxWorkers: 4})
	proxy := handler.NewProxyServer(&handler.Config{MemberID: "member-1"}, tc.grid, sessions, nil, pool, tc.metrics, logger)

	lis := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	pb.RegisterProxyServiceServer(server, proxy)
	go func() { _ = server.Serve(lis) }()

	tc.mu.Lock()
	tc.servers[name] = &testServer{lis: lis, server: server, proxy: proxy, sessions: sessions, pool: pool}
	tc.order = append(tc.order, name)
	tc.mu.Unlock()
}

// stop takes an endpoint down; new connections to it are refused
func (tc *testCluster) stop(name string) {
	tc.mu.Lock()
	s, ok := tc.servers[name]
	if !ok || s.stopped {
		tc.mu.Unlock()
		return
	}
	s.stopped = true
	tc.mu.Unlock()

	s.proxy.Stop()
	s.server.Stop()
	_ = s.pool.Stop(time.Second)
}

func (tc *testCluster) server(name string) *testServer {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.servers[name]
}

func (tc *testCluster) dialer() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		tc.mu.Lock()
		s, ok := tc.servers[addr]
		stopped := ok && s.stopped
		tc.mu.Unlock()
		if !ok || stopped {
			return nil, errors.New("connection refused")
		}
		return s.lis.DialContext(ctx)
	})
}

func address(name string) string {
	return "passthrough:///" + name
}

func (tc *testCluster) newSession(t *testing.T, g *gomega.WithT, opts ...func(*client.SessionOptions)) *client.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tc.mu.Lock()
	var addrs []string
	for _, name := range tc.order {
		addrs = append(addrs, address(name))
	}
	tc.mu.Unlock()

	base := []func(*client.SessionOptions){
		client.WithAddresses(addrs...),
		client.WithDialOptions(tc.dialer()),
		client.WithRequestTimeout(5 * time.Second),
		client.WithReconnectTimeout(5 * time.Second),
	}
	session, err := client.NewSession(ctx, append(base, opts...)...)
	g.Expect(err).ShouldNot(gomega.HaveOccurred())
	t.Cleanup(session.Close)
	return session
}

func (tc *testCluster) keyListeners(cache string) int {
	return tc.events.KeyListenerCount(model.CacheID{Name: cache})
}

func (tc *testCluster) filterListeners(cache string) int {
	return tc.events.FilterListenerCount(model.CacheID{Name: cache})
}

func getCache[K comparable, V any](g *gomega.WithT, s *client.Session, name string, opts ...func(*client.CacheOptions)) *client.NamedCache[K, V] {
	c, err := client.GetNamedCache[K, V](context.Background(), s, name, opts...)
	g.Expect(err).ShouldNot(gomega.HaveOccurred())
	return c
}

// Person is the value type used across the client tests
type Person struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Age     int      `json:"age"`
	City    string   `json:"city,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Balance float64  `json:"balance,omitempty"`
}

var people = map[int]Person{
	1: {ID: 1, Name: "Ada", Age: 36, City: "London", Tags: []string{"math"}, Balance: 100},
	2: {ID: 2, Name: "Alan", Age: 41, City: "Manchester", Tags: []string{"math", "crypto"}, Balance: 250.5},
	3: {ID: 3, Name: "Grace", Age: 85, City: "New York", Tags: []string{"navy"}, Balance: 75},
	4: {ID: 4, Name: "Edsger", Age: 72, City: "Austin", Balance: 10},
}

// eventCounter records map events for assertions with Eventually
type eventCounter[K comparable, V any] struct {
	mu       sync.Mutex
	inserted int
	updated  int
	deleted  int
	events   []client.MapEvent[K, V]
	listener *client.MapListener[K, V]
}

func newEventCounter[K comparable, V any]() *eventCounter[K, V] {
	c := &eventCounter[K, V]{}
	c.listener = client.NewMapListener[K, V]().
		OnInserted(func(client.MapEvent[K, V]) { c.bump(&c.inserted) }).
		OnUpdated(func(client.MapEvent[K, V]) { c.bump(&c.updated) }).
		OnDeleted(func(client.MapEvent[K, V]) { c.bump(&c.deleted) }).
		OnAny(func(e client.MapEvent[K, V]) {
			c.mu.Lock()
			c.events = append(c.events, e)
			c.mu.Unlock()
		})
	return c
}

func (c *eventCounter[K, V]) bump(n *int) {
	c.mu.Lock()
	*n++
	c.mu.Unlock()
}

func (c *eventCounter[K, V]) counts() [3]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return [3]int{c.inserted, c.updated, c.deleted}
}

func (c *eventCounter[K, V]) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *eventCounter[K, V]) snapshot() []client.MapEvent[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]client.MapEvent[K, V](nil), c.events...)
}
