package handler_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/devrev/pairdb/gridcache/internal/handler"
	"github.com/devrev/pairdb/gridcache/internal/metrics"
	"github.com/devrev/pairdb/gridcache/internal/partition"
	"github.com/devrev/pairdb/gridcache/internal/serialization"
	"github.com/devrev/pairdb/gridcache/internal/service"
	"github.com/devrev/pairdb/gridcache/internal/util/workerpool"
	pb "github.com/devrev/pairdb/gridcache/pkg/proto"
)

type fixture struct {
	proxy  *handler.ProxyServer
	client pb.ProxyServiceClient
	ser    serialization.Serializer
}

func setupProxy(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	m := metrics.NewMetrics("member-1", prometheus.NewRegistry())
	events := service.NewEventService(m, logger)
	grid := service.NewGridService(&service.GridConfig{LockTimeout: time.Second},
		partition.NewMap(&partition.Config{PartitionCount: 13, LocalMember: "member-1"}, logger),
		events, nil, m, logger)
	grid.Start()
	registry := serialization.NewRegistry()
	sessions := service.NewSessionService(&service.SessionConfig{}, events, registry, m, logger)
	pool := workerpool.NewWorkerPool(&workerpool.Config{Name: "test", MaxWorkers: 2})
	proxy := handler.NewProxyServer(&handler.Config{MemberID: "member-1"}, grid, sessions, nil, pool, m, logger)

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	pb.RegisterProxyServiceServer(server, proxy)
	go func() { _ = server.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		proxy.Stop()
		server.Stop()
		_ = pool.Stop(time.Second)
		grid.Stop()
		events.Close()
	})

	ser, err := registry.Get(serialization.FormatJSON)
	require.NoError(t, err)
	return &fixture{proxy: proxy, client: pb.NewProxyServiceClient(conn), ser: ser}
}

func (f *fixture) open(t *testing.T) pb.ProxyService_SubChannelClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	stream, err := f.client.SubChannel(ctx)
	require.NoError(t, err)
	return stream
}

// initialized opens a sub-channel and completes the init exchange
func (f *fixture) initialized(t *testing.T) pb.ProxyService_SubChannelClient {
	t.Helper()
	stream := f.open(t)
	require.NoError(t, stream.Send(&pb.ProxyRequest{ID: 1, Init: &pb.InitRequest{
		ProtocolVersion: 1,
		Format:          serialization.FormatJSON,
		ClientID:        "handler-test",
	}}))
	resp, err := stream.Recv()
	require.NoError(t, err)
	require.NotNil(t, resp.Init)
	return stream
}

func (f *fixture) encode(t *testing.T, v any) []byte {
	t.Helper()
	data, err := f.ser.Serialize(v)
	require.NoError(t, err)
	return data
}

func roundTrip(t *testing.T, stream pb.ProxyService_SubChannelClient, req *pb.ProxyRequest) *pb.ProxyResponse {
	t.Helper()
	require.NoError(t, stream.Send(req))
	resp, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, req.ID, resp.ID)
	return resp
}

func TestSubChannel_Init(t *testing.T) {
	f := setupProxy(t)
	stream := f.open(t)

	require.NoError(t, stream.Send(&pb.ProxyRequest{ID: 7, Init: &pb.InitRequest{
		ProtocolVersion:     1,
		Format:              serialization.FormatJSON,
		HeartbeatMillis:     0,
		RequireHeartbeatAck: true,
	}}))
	resp, err := stream.Recv()
	require.NoError(t, err)

	assert.Equal(t, int64(7), resp.ID)
	require.NotNil(t, resp.Init)
	assert.NotEmpty(t, resp.Init.SessionID)
	assert.Equal(t, "member-1", resp.Init.MemberID)
	assert.Equal(t, int32(1), resp.Init.ProtocolVersion)
	assert.Equal(t, serialization.FormatJSON, resp.Init.Format)
	assert.Equal(t, int32(13), resp.Init.PartitionCount)
	assert.True(t, resp.Init.RequireHeartbeatAck)
	assert.True(t, resp.Complete)
	assert.Eventually(t, func() bool { return f.proxy.ActiveChannels() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSubChannel_RejectedInit(t *testing.T) {
	tests := []struct {
		name string
		req  *pb.ProxyRequest
		code int32
	}{
		{"not init", &pb.ProxyRequest{ID: 1, Heartbeat: &pb.Heartbeat{}}, pb.CodeInvalidArgument},
		{"bad protocol version", &pb.ProxyRequest{ID: 1, Init: &pb.InitRequest{ProtocolVersion: 9}}, pb.CodeInvalidArgument},
		{"unknown format", &pb.ProxyRequest{ID: 1, Init: &pb.InitRequest{ProtocolVersion: 1, Format: "xml"}}, pb.CodeUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupProxy(t)
			stream := f.open(t)
			resp := roundTrip(t, stream, tt.req)

			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Nil(t, resp.Init)
			assert.Zero(t, f.proxy.ActiveChannels())
		})
	}
}

func TestSubChannel_PutGet(t *testing.T) {
	f := setupProxy(t)
	stream := f.initialized(t)

	resp := roundTrip(t, stream, &pb.ProxyRequest{ID: 2, Message: &pb.NamedCacheRequest{
		Type:  pb.RequestPut,
		Cache: "people",
		Key:   f.encode(t, "ada"),
		Value: f.encode(t, "Lovelace"),
	}})
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Message)
	assert.False(t, resp.Message.Present)

	resp = roundTrip(t, stream, &pb.ProxyRequest{ID: 3, Message: &pb.NamedCacheRequest{
		Type:  pb.RequestGet,
		Cache: "people",
		Key:   f.encode(t, "ada"),
	}})
	require.Nil(t, resp.Error)
	require.True(t, resp.Message.Present)
	v, err := f.ser.Deserialize(resp.Message.Value)
	require.NoError(t, err)
	assert.Equal(t, "Lovelace", v)

	resp = roundTrip(t, stream, &pb.ProxyRequest{ID: 4, Message: &pb.NamedCacheRequest{
		Type:  pb.RequestSize,
		Cache: "people",
	}})
	require.Nil(t, resp.Error)
	assert.Equal(t, int64(1), resp.Message.Int)

	resp = roundTrip(t, stream, &pb.ProxyRequest{ID: 5, Message: &pb.NamedCacheRequest{
		Type:  pb.RequestGet,
		Cache: "people",
		Key:   f.encode(t, "grace"),
	}})
	require.Nil(t, resp.Error)
	assert.False(t, resp.Message.Present)
}

func TestSubChannel_InvalidRequests(t *testing.T) {
	f := setupProxy(t)
	stream := f.initialized(t)

	tests := []struct {
		name string
		req  *pb.ProxyRequest
	}{
		{"empty", &pb.ProxyRequest{ID: 10}},
		{"second init", &pb.ProxyRequest{ID: 11, Init: &pb.InitRequest{ProtocolVersion: 1}}},
		{"missing key", &pb.ProxyRequest{ID: 12, Message: &pb.NamedCacheRequest{Type: pb.RequestGet, Cache: "people"}}},
		{"missing cache", &pb.ProxyRequest{ID: 13, Message: &pb.NamedCacheRequest{Type: pb.RequestSize}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := roundTrip(t, stream, tt.req)
			require.NotNil(t, resp.Error)
			assert.NotZero(t, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestSubChannel_HeartbeatAck(t *testing.T) {
	f := setupProxy(t)
	stream := f.initialized(t)

	resp := roundTrip(t, stream, &pb.ProxyRequest{ID: 20, Heartbeat: &pb.Heartbeat{Ack: true}})
	require.NotNil(t, resp.Heartbeat)
	assert.NotZero(t, resp.Heartbeat.TimestampMillis)
	assert.True(t, resp.Complete)
}

func TestProxyServer_Stop(t *testing.T) {
	f := setupProxy(t)
	stream := f.initialized(t)
	require.Eventually(t, func() bool { return f.proxy.ActiveChannels() == 1 }, time.Second, 10*time.Millisecond)

	f.proxy.Stop()
	assert.True(t, f.proxy.Stopped())

	// the open stream ends
	for {
		if _, err := stream.Recv(); err != nil {
			break
		}
	}
	assert.Zero(t, f.proxy.ActiveChannels())

	_, err := f.open(t).Recv()
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestProxyServer_Ping(t *testing.T) {
	f := setupProxy(t)
	before := time.Now().Add(-time.Second)

	ts, err := f.client.Ping(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	assert.True(t, ts.AsTime().After(before))
}
