package transport

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/quic-go/quic-go"
)

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:                10 * time.Second,
		MaxIdleTimeout:                 60 * time.Second,
		InitialStreamReceiveWindow:     8 << 20,   // 8 MiB
		InitialConnectionReceiveWindow: 128 << 20, // 128 MiB
	}
}

// QUICConnection wraps a QUIC connection carrying StreamSong exchanges, one
// bidirectional stream each.
type QUICConnection struct {
	conn *quic.Conn
}

// NewQUICConnection creates a new QUIC connection wrapper
func NewQUICConnection(conn *quic.Conn) *QUICConnection {
	return &QUICConnection{conn: conn}
}

// OpenStream opens a stream for one exchange.
func (q *QUICConnection) OpenStream(ctx context.Context) (*quic.Stream, error) {
	return q.conn.OpenStreamSync(ctx)
}

// AcceptStream accepts the next exchange opened by the peer.
func (q *QUICConnection) AcceptStream(ctx context.Context) (*quic.Stream, error) {
	return q.conn.AcceptStream(ctx)
}

// RemoteAddr returns the peer's address.
func (q *QUICConnection) RemoteAddr() string {
	return q.conn.RemoteAddr().String()
}

// Close closes the QUIC connection
func (q *QUICConnection) Close() error {
	return q.conn.CloseWithError(0, "connection closed")
}

// DialQUIC establishes a QUIC connection to a remote address
func DialQUIC(ctx context.Context, addr string, tlsConfig *tls.Config) (*QUICConnection, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, err
	}
	return NewQUICConnection(conn), nil
}

// ListenQUIC starts a QUIC listener
func ListenQUIC(addr string, tlsConfig *tls.Config) (*QUICListener, error) {
	listener, err := quic.ListenAddr(addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, err
	}
	return &QUICListener{listener: listener}, nil
}

// QUICListener wraps a QUIC listener
type QUICListener struct {
	listener *quic.Listener
}

// Accept accepts a new QUIC connection
func (l *QUICListener) Accept(ctx context.Context) (*QUICConnection, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return NewQUICConnection(conn), nil
}

// Addr returns the listening address.
func (l *QUICListener) Addr() string {
	return l.listener.Addr().String()
}

// Close closes the listener
func (l *QUICListener) Close() error {
	return l.listener.Close()
}
