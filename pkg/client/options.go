package client

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	defaultAddress          = "localhost:1408"
	defaultRequestTimeout   = 30 * time.Second
	defaultReconnectTimeout = 30 * time.Second
	defaultConnectTimeout   = 10 * time.Second
)

// SessionOptions holds the settings of a Session
type SessionOptions struct {
	Addresses []string
	Scope     string
	Format    string
	ClientID  string

	// HeartbeatInterval enables client heartbeats when positive. The same
	// interval is requested for server heartbeats.
	HeartbeatInterval   time.Duration
	RequireHeartbeatAck bool
	// HeartbeatTimeout bounds the wait for an acknowledgement before the
	// stream is considered dead. It defaults to three intervals.
	HeartbeatTimeout time.Duration

	RequestTimeout   time.Duration
	ReconnectTimeout time.Duration
	ConnectTimeout   time.Duration

	// DiscoverEndpoints adds the proxy endpoints reported by the server to
	// the failover list
	DiscoverEndpoints bool

	DialOptions []grpc.DialOption
	Logger      *zap.Logger
}

func (o *SessionOptions) String() string {
	return fmt.Sprintf("SessionOptions{addresses=%v, scope=%q, format=%q, heartbeat=%v, requireAck=%v, requestTimeout=%v, reconnectTimeout=%v}",
		o.Addresses, o.Scope, o.Format, o.HeartbeatInterval, o.RequireHeartbeatAck, o.RequestTimeout, o.ReconnectTimeout)
}

// WithAddress sets a single endpoint
func WithAddress(address string) func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.Addresses = []string{address}
	}
}

// WithAddresses sets the endpoints walked in order on connect and failover
func WithAddresses(addresses ...string) func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.Addresses = append([]string(nil), addresses...)
	}
}

// WithScope sets the scope that qualifies every cache name of the session
func WithScope(scope string) func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.Scope = scope
	}
}

// WithFormat selects the serialization format, "json" or "msgpack"
func WithFormat(format string) func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.Format = format
	}
}

// WithClientID sets an identifier reported in the server's session list
func WithClientID(id string) func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.ClientID = id
	}
}

// WithHeartbeat enables heartbeats at the given interval
func WithHeartbeat(interval time.Duration) func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.HeartbeatInterval = interval
	}
}

// WithRequireHeartbeatAck makes the server acknowledge every client
// heartbeat. A missing acknowledgement tears down the stream.
func WithRequireHeartbeatAck() func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.RequireHeartbeatAck = true
	}
}

// WithHeartbeatTimeout bounds the wait for a heartbeat acknowledgement
func WithHeartbeatTimeout(timeout time.Duration) func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.HeartbeatTimeout = timeout
	}
}

// WithRequestTimeout sets the deadline of requests whose context has none
func WithRequestTimeout(timeout time.Duration) func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.RequestTimeout = timeout
	}
}

// WithReconnectTimeout bounds how long a broken session keeps trying its
// endpoints before failing with ErrNoEndpoint
func WithReconnectTimeout(timeout time.Duration) func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.ReconnectTimeout = timeout
	}
}

// WithConnectTimeout bounds a single connection attempt
func WithConnectTimeout(timeout time.Duration) func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.ConnectTimeout = timeout
	}
}

// WithEndpointDiscovery adds the endpoints reported by the server to the
// failover list
func WithEndpointDiscovery() func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.DiscoverEndpoints = true
	}
}

// WithDialOptions adds gRPC dial options, for example transport credentials
// or a custom dialer
func WithDialOptions(opts ...grpc.DialOption) func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.DialOptions = append(o.DialOptions, opts...)
	}
}

// WithLogger sets the session logger
func WithLogger(logger *zap.Logger) func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.Logger = logger
	}
}

func (o *SessionOptions) setDefaults() {
	if len(o.Addresses) == 0 {
		o.Addresses = []string{defaultAddress}
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.ReconnectTimeout <= 0 {
		o.ReconnectTimeout = defaultReconnectTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.HeartbeatTimeout <= 0 && o.HeartbeatInterval > 0 {
		o.HeartbeatTimeout = 3 * o.HeartbeatInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}
