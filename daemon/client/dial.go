package client

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/TunoMedia/TunoMedia/daemon/api/tunopb"
)

// DialOptions configures connections to distributors.
type DialOptions struct {
	Proxy   string // socks5 host:port or socks5:// URL; empty dials directly
	Timeout time.Duration
}

// Target converts a distributor URL as registered on the ledger into a host:port target.
func Target(rawURL string) (string, error) {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return "", fmt.Errorf("empty distributor url")
	}
	if !strings.Contains(s, "://") {
		if _, _, err := net.SplitHostPort(s); err != nil {
			return "", fmt.Errorf("invalid distributor address %q: %w", rawURL, err)
		}
		return s, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid distributor url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("distributor url %q has no host", rawURL)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	if u.Scheme == "https" || u.Scheme == "grpcs" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

func contextDialer(opts DialOptions) (func(ctx context.Context, addr string) (net.Conn, error), error) {
	direct := &net.Dialer{Timeout: opts.Timeout}
	if opts.Proxy == "" {
		return func(ctx context.Context, addr string) (net.Conn, error) {
			return direct.DialContext(ctx, "tcp", addr)
		}, nil
	}

	proxyURL := opts.Proxy
	if !strings.Contains(proxyURL, "://") {
		proxyURL = "socks5://" + proxyURL
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", opts.Proxy, err)
	}
	dialer, err := proxy.FromURL(u, direct)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", opts.Proxy, err)
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return func(ctx context.Context, addr string) (net.Conn, error) {
			return cd.DialContext(ctx, "tcp", addr)
		}, nil
	}
	return func(ctx context.Context, addr string) (net.Conn, error) {
		return dialer.Dial("tcp", addr)
	}, nil
}

// Dial opens a gRPC connection to target. Name resolution is left to the dialer so
// that proxied hosts are resolved by the proxy.
func Dial(target string, opts DialOptions) (*grpc.ClientConn, error) {
	dial, err := contextDialer(opts)
	if err != nil {
		return nil, err
	}
	return grpc.NewClient("passthrough:///"+target,
		grpc.WithContextDialer(dial),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(tunopb.MaxMessageSize)),
	)
}
