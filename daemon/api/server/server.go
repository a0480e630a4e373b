package server

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/TunoMedia/TunoMedia/daemon/api/tunopb"
	"github.com/TunoMedia/TunoMedia/daemon/service"
	"github.com/TunoMedia/TunoMedia/internal/payment"
	"github.com/TunoMedia/TunoMedia/internal/ratelimit"
)

// TunoAPIServer exposes the transfer service over gRPC.
type TunoAPIServer struct {
	tunopb.UnimplementedTunoServer
	transfer *service.TransferService
}

func NewTunoAPIServer(ts *service.TransferService) *TunoAPIServer {
	return &TunoAPIServer{transfer: ts}
}

// NewGRPCServer creates a gRPC server speaking the tuno codec with the
// service registered. A nil limiter disables per-peer rate limiting.
func NewGRPCServer(impl *TunoAPIServer, limiter *ratelimit.PeerLimiter, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ForceServerCodec(tunopb.Codec{}),
		grpc.MaxSendMsgSize(tunopb.MaxMessageSize),
		grpc.MaxRecvMsgSize(maxBodySize),
		grpc.ChainUnaryInterceptor(RateLimitUnary(limiter)),
		grpc.ChainStreamInterceptor(RateLimitStream(limiter)),
	}, opts...)
	s := grpc.NewServer(opts...)
	tunopb.RegisterTunoServer(s, impl)
	return s
}

func (s *TunoAPIServer) Echo(ctx context.Context, req *tunopb.EchoRequest) (*tunopb.EchoResponse, error) {
	msg, err := s.transfer.Echo(req.Message)
	if err != nil {
		return nil, toStatus(err)
	}
	return &tunopb.EchoResponse{Message: msg}, nil
}

func (s *TunoAPIServer) FetchSong(ctx context.Context, req *tunopb.SongRequest) (*tunopb.SongBytes, error) {
	data, err := s.transfer.FetchSong(ctx, peerAddr(ctx), req.RawTransaction)
	if err != nil {
		return nil, toStatus(err)
	}
	return &tunopb.SongBytes{Data: data}, nil
}

func (s *TunoAPIServer) StreamSong(req *tunopb.SongStreamRequest, stream tunopb.Tuno_StreamSongServer) error {
	ctx := stream.Context()
	st, err := s.transfer.StreamSong(ctx, peerAddr(ctx), req.GetRawTransaction(), int(req.BlockSize))
	if err != nil {
		return toStatus(err)
	}
	defer st.Close()

	for {
		block, err := st.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return toStatus(err)
		}
		if err := stream.Send(&tunopb.SongBytes{Data: block}); err != nil {
			return err
		}
	}
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// toStatus maps service errors to gRPC statuses. Payment failures are reported
// without detail; the reason is only logged.
func toStatus(err error) error {
	switch {
	case errors.Is(err, payment.ErrRejected), errors.Is(err, service.ErrLedgerSubmission):
		return status.Error(codes.PermissionDenied, "payment not accepted")
	case errors.Is(err, service.ErrContentNotFound):
		return status.Error(codes.NotFound, "content not found")
	case errors.Is(err, service.ErrEmptyMessage):
		return status.Error(codes.InvalidArgument, "Invalid echo request: message is empty")
	case errors.Is(err, service.ErrInvalidBlockSize):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrCancelled), errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "stream cancelled")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
