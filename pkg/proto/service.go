package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	ProxyService_SubChannel_FullMethodName = "/gridcache.proxy.v1.ProxyService/SubChannel"
	ProxyService_Ping_FullMethodName       = "/gridcache.proxy.v1.ProxyService/Ping"
)

// ProxyService_SubChannelClient is the client side of a sub-channel
type ProxyService_SubChannelClient = grpc.BidiStreamingClient[ProxyRequest, ProxyResponse]

// ProxyService_SubChannelServer is the server side of a sub-channel
type ProxyService_SubChannelServer = grpc.BidiStreamingServer[ProxyRequest, ProxyResponse]

// ProxyServiceClient is the client API for the proxy service
type ProxyServiceClient interface {
	SubChannel(ctx context.Context, opts ...grpc.CallOption) (ProxyService_SubChannelClient, error)
	Ping(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*timestamppb.Timestamp, error)
}

type proxyServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewProxyServiceClient creates a client. Calls always use the gridcache codec.
func NewProxyServiceClient(cc grpc.ClientConnInterface) ProxyServiceClient {
	return &proxyServiceClient{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *proxyServiceClient) SubChannel(ctx context.Context, opts ...grpc.CallOption) (ProxyService_SubChannelClient, error) {
	stream, err := c.cc.NewStream(ctx, &ProxyService_ServiceDesc.Streams[0], ProxyService_SubChannel_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[ProxyRequest, ProxyResponse]{ClientStream: stream}, nil
}

func (c *proxyServiceClient) Ping(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*timestamppb.Timestamp, error) {
	out := new(timestamppb.Timestamp)
	if err := c.cc.Invoke(ctx, ProxyService_Ping_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// ProxyServiceServer is the server API for the proxy service
type ProxyServiceServer interface {
	SubChannel(ProxyService_SubChannelServer) error
	Ping(context.Context, *emptypb.Empty) (*timestamppb.Timestamp, error)
}

// UnimplementedProxyServiceServer can be embedded for forward compatibility
type UnimplementedProxyServiceServer struct{}

func (UnimplementedProxyServiceServer) SubChannel(ProxyService_SubChannelServer) error {
	return status.Error(codes.Unimplemented, "method SubChannel not implemented")
}

func (UnimplementedProxyServiceServer) Ping(context.Context, *emptypb.Empty) (*timestamppb.Timestamp, error) {
	return nil, status.Error(codes.Unimplemented, "method Ping not implemented")
}

// RegisterProxyServiceServer registers srv with s
func RegisterProxyServiceServer(s grpc.ServiceRegistrar, srv ProxyServiceServer) {
	s.RegisterService(&ProxyService_ServiceDesc, srv)
}

func _ProxyService_SubChannel_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(ProxyServiceServer).SubChannel(&grpc.GenericServerStream[ProxyRequest, ProxyResponse]{ServerStream: stream})
}

func _ProxyService_Ping_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProxyServiceServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ProxyService_Ping_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProxyServiceServer).Ping(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ProxyService_ServiceDesc describes gridcache.proxy.v1.ProxyService
var ProxyService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "gridcache.proxy.v1.ProxyService",
	HandlerType: (*ProxyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Ping",
			Handler:    _ProxyService_Ping_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubChannel",
			Handler:       _ProxyService_SubChannel_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "gridcache/proxy/v1/proxy.proto",
}
