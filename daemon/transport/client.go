package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"

	"github.com/quic-go/quic-go"
	"google.golang.org/grpc/codes"
)

// ChunkStream is the client side of a StreamSong exchange over QUIC.
type ChunkStream struct {
	conn   *QUICConnection
	stream *quic.Stream
	limit  int
}

// StreamSong dials addr, sends req and waits for the status frame. A refused
// request is returned as a *StreamStatus error.
func StreamSong(ctx context.Context, addr string, tlsConfig *tls.Config, req *StreamRequest) (*ChunkStream, error) {
	conn, err := DialQUIC(ctx, addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	cs, err := openStream(ctx, conn, req)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return cs, nil
}

func openStream(ctx context.Context, conn *QUICConnection, req *StreamRequest) (*ChunkStream, error) {
	stream, err := conn.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	if err := WriteRequest(stream, req); err != nil {
		return nil, err
	}

	st, err := ReadStatus(stream)
	if err != nil {
		return nil, err
	}
	if st.Code != codes.OK {
		return nil, st
	}

	limit := int(req.BlockSize)
	if limit == 0 || limit > MaxChunkSize {
		limit = MaxChunkSize
	}
	return &ChunkStream{conn: conn, stream: stream, limit: limit}, nil
}

// Next returns the next chunk, or io.EOF after the last one.
func (c *ChunkStream) Next() ([]byte, error) {
	return ReadChunk(c.stream, c.limit)
}

// Close abandons the exchange and the connection.
func (c *ChunkStream) Close() error {
	c.stream.CancelRead(quic.StreamErrorCode(codes.Canceled))
	_ = c.stream.Close()
	return c.conn.Close()
}

func hostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// IsRefused reports whether err is a status refusal carrying code.
func IsRefused(err error, code codes.Code) bool {
	var st *StreamStatus
	return errors.As(err, &st) && st.Code == code
}

var _ io.Closer = (*ChunkStream)(nil)
