package transport

import (
	"context"
	"errors"
	"io"

	"github.com/quic-go/quic-go"
	"google.golang.org/grpc/codes"

	"github.com/TunoMedia/TunoMedia/daemon/service"
	"github.com/TunoMedia/TunoMedia/internal/observability"
	"github.com/TunoMedia/TunoMedia/internal/payment"
	"github.com/TunoMedia/TunoMedia/internal/ratelimit"
)

// StreamServer serves StreamSong over QUIC with the same payment gate as the gRPC service.
type StreamServer struct {
	transfer *service.TransferService
	encoding payment.Encoding
	limiter  *ratelimit.PeerLimiter
	logger   *observability.Logger
}

// NewStreamServer creates a QUIC stream server. encoding is the envelope
// encoding the transfer service verifies; requests in another encoding are re-encoded.
func NewStreamServer(ts *service.TransferService, encoding payment.Encoding, limiter *ratelimit.PeerLimiter, logger *observability.Logger) *StreamServer {
	if logger == nil {
		logger = observability.Nop()
	}
	return &StreamServer{transfer: ts, encoding: encoding, limiter: limiter, logger: logger.WithComponent("quic")}
}

// Serve accepts connections until ctx is done or the listener fails.
func (s *StreamServer) Serve(ctx context.Context, l *QUICListener) error {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *StreamServer) serveConn(ctx context.Context, conn *QUICConnection) {
	defer conn.Close()
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.serveStream(ctx, conn.RemoteAddr(), stream)
	}
}

func (s *StreamServer) serveStream(ctx context.Context, peer string, stream *quic.Stream) {
	defer stream.Close()
	defer stream.CancelRead(quic.StreamErrorCode(codes.OK))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := ReadRequest(stream)
	if err != nil {
		_ = WriteStatus(stream, &StreamStatus{Code: codes.InvalidArgument, Text: err.Error()})
		return
	}
	if s.limiter != nil && !s.limiter.Allow(hostOf(peer)) {
		_ = WriteStatus(stream, &StreamStatus{Code: codes.ResourceExhausted, Text: "rate limit exceeded"})
		return
	}

	st, err := s.transfer.StreamSong(ctx, peer, s.normalize(req), int(req.BlockSize))
	if err != nil {
		_ = WriteStatus(stream, statusOf(err))
		return
	}
	defer st.Close()

	// The client cancelling its side ends the exchange.
	go func() {
		_, _ = io.Copy(io.Discard, stream)
		cancel()
	}()

	if err := WriteStatus(stream, &StreamStatus{Code: codes.OK}); err != nil {
		return
	}
	for {
		block, err := st.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			stream.CancelWrite(quic.StreamErrorCode(codes.Aborted))
			return
		}
		if err := WriteChunk(stream, block); err != nil {
			s.logger.Debug("Client went away mid-stream")
			return
		}
	}
}

// normalize re-encodes the envelope for the verifier. An envelope that does
// not decode is passed through for the verifier to reject.
func (s *StreamServer) normalize(req *StreamRequest) []byte {
	if req.Encoding == s.encoding {
		return req.Envelope
	}
	raw, err := req.Encoding.Decode(req.Envelope)
	if err != nil {
		return req.Envelope
	}
	return s.encoding.Encode(raw)
}

func statusOf(err error) *StreamStatus {
	switch {
	case errors.Is(err, payment.ErrRejected), errors.Is(err, service.ErrLedgerSubmission):
		return &StreamStatus{Code: codes.PermissionDenied, Text: "payment not accepted"}
	case errors.Is(err, service.ErrContentNotFound):
		return &StreamStatus{Code: codes.NotFound, Text: "content not found"}
	case errors.Is(err, service.ErrInvalidBlockSize):
		return &StreamStatus{Code: codes.InvalidArgument, Text: err.Error()}
	default:
		return &StreamStatus{Code: codes.Internal, Text: "internal error"}
	}
}
