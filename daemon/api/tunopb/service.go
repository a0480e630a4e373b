package tunopb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "tuno.Tuno"

	Tuno_Echo_FullMethodName       = "/tuno.Tuno/Echo"
	Tuno_FetchSong_FullMethodName  = "/tuno.Tuno/FetchSong"
	Tuno_StreamSong_FullMethodName = "/tuno.Tuno/StreamSong"
)

// MaxMessageSize bounds a single response message. FetchSong returns the whole
// song in one message, so this is also the largest song it can deliver.
// Stream blocks are capped well below it.
const MaxMessageSize = 512 << 20

// TunoServer is the server API for the Tuno service.
type TunoServer interface {
	Echo(context.Context, *EchoRequest) (*EchoResponse, error)
	FetchSong(context.Context, *SongRequest) (*SongBytes, error)
	StreamSong(*SongStreamRequest, Tuno_StreamSongServer) error
}

// UnimplementedTunoServer can be embedded to have forward compatible implementations.
type UnimplementedTunoServer struct{}

func (UnimplementedTunoServer) Echo(context.Context, *EchoRequest) (*EchoResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Echo not implemented")
}
func (UnimplementedTunoServer) FetchSong(context.Context, *SongRequest) (*SongBytes, error) {
	return nil, status.Errorf(codes.Unimplemented, "method FetchSong not implemented")
}
func (UnimplementedTunoServer) StreamSong(*SongStreamRequest, Tuno_StreamSongServer) error {
	return status.Errorf(codes.Unimplemented, "method StreamSong not implemented")
}

// Tuno_StreamSongServer is the server side of a StreamSong call.
type Tuno_StreamSongServer interface {
	Send(*SongBytes) error
	grpc.ServerStream
}

type tunoStreamSongServer struct {
	grpc.ServerStream
}

func (x *tunoStreamSongServer) Send(m *SongBytes) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterTunoServer registers srv. The server must be created with
// grpc.ForceServerCodec(Codec{}).
func RegisterTunoServer(s grpc.ServiceRegistrar, srv TunoServer) {
	s.RegisterService(&Tuno_ServiceDesc, srv)
}

func _Tuno_Echo_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(EchoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TunoServer).Echo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Tuno_Echo_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TunoServer).Echo(ctx, req.(*EchoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Tuno_FetchSong_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SongRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TunoServer).FetchSong(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Tuno_FetchSong_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TunoServer).FetchSong(ctx, req.(*SongRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Tuno_StreamSong_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(SongStreamRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(TunoServer).StreamSong(m, &tunoStreamSongServer{stream})
}

// Tuno_ServiceDesc is the grpc.ServiceDesc for the Tuno service.
var Tuno_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TunoServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Echo", Handler: _Tuno_Echo_Handler},
		{MethodName: "FetchSong", Handler: _Tuno_FetchSong_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamSong", Handler: _Tuno_StreamSong_Handler, ServerStreams: true},
	},
	Metadata: "tuno.proto",
}

// TunoClient is the client API for the Tuno service.
type TunoClient interface {
	Echo(ctx context.Context, in *EchoRequest, opts ...grpc.CallOption) (*EchoResponse, error)
	FetchSong(ctx context.Context, in *SongRequest, opts ...grpc.CallOption) (*SongBytes, error)
	StreamSong(ctx context.Context, in *SongStreamRequest, opts ...grpc.CallOption) (Tuno_StreamSongClient, error)
}

type tunoClient struct {
	cc grpc.ClientConnInterface
}

// NewTunoClient returns a client whose calls always use Codec.
func NewTunoClient(cc grpc.ClientConnInterface) TunoClient {
	return &tunoClient{cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
}

func (c *tunoClient) Echo(ctx context.Context, in *EchoRequest, opts ...grpc.CallOption) (*EchoResponse, error) {
	out := new(EchoResponse)
	if err := c.cc.Invoke(ctx, Tuno_Echo_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *tunoClient) FetchSong(ctx context.Context, in *SongRequest, opts ...grpc.CallOption) (*SongBytes, error) {
	out := new(SongBytes)
	if err := c.cc.Invoke(ctx, Tuno_FetchSong_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *tunoClient) StreamSong(ctx context.Context, in *SongStreamRequest, opts ...grpc.CallOption) (Tuno_StreamSongClient, error) {
	stream, err := c.cc.NewStream(ctx, &Tuno_ServiceDesc.Streams[0], Tuno_StreamSong_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &tunoStreamSongClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Tuno_StreamSongClient is the client side of a StreamSong call.
type Tuno_StreamSongClient interface {
	Recv() (*SongBytes, error)
	grpc.ClientStream
}

type tunoStreamSongClient struct {
	grpc.ClientStream
}

func (x *tunoStreamSongClient) Recv() (*SongBytes, error) {
	m := new(SongBytes)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
