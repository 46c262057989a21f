package client_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devrev/pairdb/gridcache/pkg/client"
	"github.com/devrev/pairdb/gridcache/pkg/processors"
	"github.com/onsi/gomega"
)

func TestSession_Connect(t *testing.T) {
	g := gomega.NewWithT(t)
	tc := setupCluster(t)

	session := tc.newSession(t, g, client.WithClientID("test-client"))
	g.Expect(session.ID()).ShouldNot(gomega.BeEmpty())
	g.Expect(session.ServerSessionID()).ShouldNot(gomega.BeEmpty())
	g.Expect(session.Endpoint()).To(gomega.Equal(address("proxy-a")))
	g.Expect(session.Format()).To(gomega.Equal("msgpack"))

	sessions := tc.server("proxy-a").sessions.List()
	g.Expect(sessions).To(gomega.HaveLen(1))
	g.Expect(sessions[0].ClientID).To(gomega.Equal("test-client"))
	g.Expect(sessions[0].ID).To(gomega.Equal(session.ServerSessionID()))

	ts, err := session.Ping(context.Background())
	g.Expect(err).ShouldNot(gomega.HaveOccurred())
	g.Expect(time.Since(ts)).To(gomega.BeNumerically("<", time.Minute))
}

func TestSession_UnsupportedFormat(t *testing.T) {
	g := gomega.NewWithT(t)
	tc := setupCluster(t)

	_, err := client.NewSession(context.Background(),
		client.WithAddress(address("proxy-a")),
		client.WithDialOptions(tc.dialer()),
		client.WithFormat("xml"))
	g.Expect(errors.Is(err, client.ErrInvalidArgument)).To(gomega.BeTrue())
}

func TestSession_NoEndpoint(t *testing.T) {
	g := gomega.NewWithT(t)
	tc := setupCluster(t)

	start := time.Now()
	_, err := client.NewSession(context.Background(),
		client.WithAddress(address("missing")),
		client.WithDialOptions(tc.dialer()),
		client.WithReconnectTimeout(300*time.Millisecond))
	g.Expect(errors.Is(err, client.ErrNoEndpoint)).To(gomega.BeTrue())
	g.Expect(time.Since(start)).To(gomega.BeNumerically(">=", 300*time.Millisecond))
}

func TestSession_Close(t *testing.T) {
	g := gomega.NewWithT(t)
	tc := setupCluster(t)
	ctx := context.Background()

	session := tc.newSession(t, g)
	var mu sync.Mutex
	var seen []client.SessionLifecycleEventType
	session.AddSessionLifecycleListener(func(e client.SessionLifecycleEvent) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	cache := getCache[string, string](g, session, "close-test")
	g.Expect(cache.AddListener(ctx, newEventCounter[string, string]().listener)).To(gomega.Succeed())
	g.Expect(tc.filterListeners("close-test")).To(gomega.Equal(1))

	session.Close()
	session.Close()
	g.Expect(session.IsClosed()).To(gomega.BeTrue())

	_, err := cache.Get(ctx, "k")
	g.Expect(errors.Is(err, client.ErrClosed)).To(gomega.BeTrue())

	// the server releases the session's registrations
	g.Eventually(func() int { return tc.filterListeners("close-test") }).Should(gomega.Equal(0))
	mu.Lock()
	defer mu.Unlock()
	g.Expect(seen).To(gomega.Equal([]client.SessionLifecycleEventType{client.Closed}))
}

func TestSession_Heartbeats(t *testing.T) {
	g := gomega.NewWithT(t)
	tc := setupCluster(t)

	session := tc.newSession(t, g, client.WithHeartbeat(100*time.Millisecond))

	// no acks requested, so the server sees an idle outbox and sends its own
	g.Eventually(func() uint64 { return session.HeartbeatStats().HeartbeatsSent }, 2*time.Second).
		Should(gomega.BeNumerically(">=", 2))
	g.Eventually(func() uint64 { return session.HeartbeatStats().HeartbeatsReceived }, 2*time.Second).
		Should(gomega.BeNumerically(">=", 1))

	stats := session.HeartbeatStats()
	g.Expect(stats.ProtocolVersion).To(gomega.Equal(int32(1)))
	g.Expect(stats.HeartbeatInterval).To(gomega.Equal(100 * time.Millisecond))
	g.Expect(stats.RequireHeartbeatAck).To(gomega.BeFalse())
	g.Expect(stats.HeartbeatsAcked).To(gomega.BeZero())
	g.Expect(stats.LastHeartbeatTime).ShouldNot(gomega.BeZero())
}

func TestSession_HeartbeatAcks(t *testing.T) {
	g := gomega.NewWithT(t)
	tc := setupCluster(t)

	session := tc.newSession(t, g,
		client.WithHeartbeat(50*time.Millisecond),
		client.WithRequireHeartbeatAck())

	g.Eventually(func() uint64 { return session.HeartbeatStats().HeartbeatsAcked }, 2*time.Second).
		Should(gomega.BeNumerically(">=", 3))
	stats := session.HeartbeatStats()
	g.Expect(stats.RequireHeartbeatAck).To(gomega.BeTrue())
	g.Expect(stats.HeartbeatsSent).To(gomega.BeNumerically(">=", stats.HeartbeatsAcked))
}

func TestSession_Failover(t *testing.T) {
	g := gomega.NewWithT(t)
	tc := setupCluster(t, "proxy-a", "proxy-b")
	ctx := context.Background()

	session := tc.newSession(t, g)
	g.Expect(session.Endpoint()).To(gomega.Equal(address("proxy-a")))

	var mu sync.Mutex
	var seen []client.SessionLifecycleEventType
	session.AddSessionLifecycleListener(func(e client.SessionLifecycleEvent) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	cache := getCache[string, int](g, session, "failover")
	_, err := cache.Put(ctx, "a", 1)
	g.Expect(err).ShouldNot(gomega.HaveOccurred())

	counter := newEventCounter[string, int]()
	g.Expect(cache.AddListener(ctx, counter.listener)).To(gomega.Succeed())
	g.Expect(cache.AddKeyListener(ctx, counter.listener, "b")).To(gomega.Succeed())
	g.Expect(tc.filterListeners("failover")).To(gomega.Equal(1))
	g.Expect(tc.keyListeners("failover")).To(gomega.Equal(1))

	tc.stop("proxy-a")

	// stopping the endpoint releases everything its sessions held, then the
	// client re-registers on the next endpoint
	g.Eventually(session.Endpoint, 5*time.Second).Should(gomega.Equal(address("proxy-b")))
	g.Eventually(func() int { return tc.filterListeners("failover") }).Should(gomega.Equal(1))
	g.Eventually(func() int { return tc.keyListeners("failover") }).Should(gomega.Equal(1))

	v, err := cache.Get(ctx, "a")
	g.Expect(err).ShouldNot(gomega.HaveOccurred())
	g.Expect(*v).To(gomega.Equal(1))

	_, err = cache.Put(ctx, "b", 2)
	g.Expect(err).ShouldNot(gomega.HaveOccurred())
	// one event for the all-entries registration and one for the key
	g.Eventually(counter.total).Should(gomega.Equal(2))
	g.Expect(counter.counts()).To(gomega.Equal([3]int{2, 0, 0}))

	mu.Lock()
	defer mu.Unlock()
	g.Expect(seen).To(gomega.Equal([]client.SessionLifecycleEventType{client.Disconnected, client.Reconnected}))
}

func TestSession_FailoverGivesUp(t *testing.T) {
	g := gomega.NewWithT(t)
	tc := setupCluster(t)
	ctx := context.Background()

	session := tc.newSession(t, g, client.WithReconnectTimeout(300*time.Millisecond))
	cache := getCache[string, int](g, session, "give-up")

	tc.stop("proxy-a")
	g.Eventually(func() error {
		_, err := cache.Get(ctx, "a")
		return err
	}, 3*time.Second).Should(gomega.MatchError(client.ErrNoEndpoint))
}

func TestSession_ErrorCodes(t *testing.T) {
	g := gomega.NewWithT(t)
	tc := setupCluster(t)
	ctx := context.Background()

	session := tc.newSession(t, g)
	cache := getCache[string, int](g, session, "errors")
	_, err := cache.Put(ctx, "a", 1)
	g.Expect(err).ShouldNot(gomega.HaveOccurred())

	_, err = client.Invoke[string, int, int](ctx, cache, "a", processors.Update[int]("missing.path", 1))
	g.Expect(errors.Is(err, client.ErrIncompleteRequest)).To(gomega.BeTrue())

	var reqErr *client.RequestError
	g.Expect(errors.As(err, &reqErr)).To(gomega.BeTrue())
	g.Expect(reqErr.Code).To(gomega.Equal(int32(1002)))

	g.Expect(cache.Destroy(ctx)).To(gomega.Succeed())
	_, err = cache.Get(ctx, "a")
	g.Expect(errors.Is(err, client.ErrNotActive)).To(gomega.BeTrue())
}

func TestSession_ContextDeadline(t *testing.T) {
	g := gomega.NewWithT(t)
	tc := setupCluster(t)

	session := tc.newSession(t, g)
	cache := getCache[string, int](g, session, "deadline")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cache.Get(ctx, "a")
	g.Expect(errors.Is(err, context.Canceled)).To(gomega.BeTrue())
}

func TestSession_SerializersShareData(t *testing.T) {
	g := gomega.NewWithT(t)
	tc := setupCluster(t)
	ctx := context.Background()

	jsonSession := tc.newSession(t, g, client.WithFormat("json"))
	packSession := tc.newSession(t, g, client.WithFormat("msgpack"))
	g.Expect(jsonSession.Format()).To(gomega.Equal("json"))

	viaJSON := getCache[int, Person](g, jsonSession, "people")
	viaPack := getCache[int, Person](g, packSession, "people")

	g.Expect(viaJSON.PutAll(ctx, people)).To(gomega.Succeed())
	p, err := viaPack.Get(ctx, 2)
	g.Expect(err).ShouldNot(gomega.HaveOccurred())
	g.Expect(*p).To(gomega.Equal(people[2]))

	_, err = viaPack.Put(ctx, 5, Person{ID: 5, Name: "Barbara", Age: 60})
	g.Expect(err).ShouldNot(gomega.HaveOccurred())
	found, err := viaJSON.ContainsEntry(ctx, 5, Person{ID: 5, Name: "Barbara", Age: 60})
	g.Expect(err).ShouldNot(gomega.HaveOccurred())
	g.Expect(found).To(gomega.BeTrue())
}

func TestSession_Scopes(t *testing.T) {
	g := gomega.NewWithT(t)
	tc := setupCluster(t)
	ctx := context.Background()

	blue := getCache[string, string](g, tc.newSession(t, g, client.WithScope("blue")), "shared")
	green := getCache[string, string](g, tc.newSession(t, g, client.WithScope("green")), "shared")

	_, err := blue.Put(ctx, "k", "blue")
	g.Expect(err).ShouldNot(gomega.HaveOccurred())
	v, err := green.Get(ctx, "k")
	g.Expect(err).ShouldNot(gomega.HaveOccurred())
	g.Expect(v).To(gomega.BeNil())
}
