// Package node assembles a distributor from configuration: content store, ledger
// client, payment gate, transfer service and its listeners.
package node

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/TunoMedia/TunoMedia/daemon/api/server"
	"github.com/TunoMedia/TunoMedia/daemon/config"
	"github.com/TunoMedia/TunoMedia/daemon/manager"
	"github.com/TunoMedia/TunoMedia/daemon/service"
	"github.com/TunoMedia/TunoMedia/daemon/transport"
	"github.com/TunoMedia/TunoMedia/internal/crypto"
	"github.com/TunoMedia/TunoMedia/internal/ledger"
	"github.com/TunoMedia/TunoMedia/internal/observability"
	"github.com/TunoMedia/TunoMedia/internal/payment"
	"github.com/TunoMedia/TunoMedia/internal/quicutil"
	"github.com/TunoMedia/TunoMedia/internal/ratelimit"
	"github.com/TunoMedia/TunoMedia/internal/storage"
)

// Version is reported by the health endpoint.
const Version = "0.3.0"

const (
	janitorInterval = time.Hour
	requestMaxAge   = 24 * time.Hour
	peerIdle        = 10 * time.Minute
)

// OpenStore opens the configured content store.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "s3":
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:   cfg.Bucket,
			Prefix:   cfg.Prefix,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
	case "", "fs":
		return storage.NewFileSystemStore(cfg.Root)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// OpenLedger returns a client for the configured ledger node.
func OpenLedger(cfg config.LedgerConfig) ledger.Ledger {
	return ledger.NewRPCClient(cfg.URL, cfg.Timeout)
}

// LoadIdentity loads the keystore, asking prompt for a passphrase when the key is
// encrypted and none was configured. A missing keystore is an error; see crypto.LoadOrCreate.
func LoadIdentity(cfg config.IdentityConfig, prompt func() (string, error)) (*crypto.Ed25519KeyPair, error) {
	path := cfg.Keystore
	passphrase := cfg.Passphrase

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if _, err := os.Stat(path + ".insecure"); err == nil {
			path += ".insecure"
		}
	} else if err == nil && passphrase == "" && prompt != nil {
		passphrase, err = prompt()
		if err != nil {
			return nil, err
		}
	}

	priv, err := crypto.LoadKey(path, passphrase)
	if err != nil {
		return nil, err
	}
	return crypto.KeyPairFromPrivate(priv)
}

// Deps overrides collaborators that are otherwise built from configuration.
type Deps struct {
	Logger   *observability.Logger
	Identity *crypto.Ed25519KeyPair
	Ledger   ledger.Ledger
	Store    storage.Store
}

// Node is a running distributor.
type Node struct {
	cfg      *config.Config
	logger   *observability.Logger
	identity *crypto.Ed25519KeyPair
	store    storage.Store
	ledger   ledger.Ledger
	audit    *manager.AuditStore
	metrics  *observability.Metrics
	health   *observability.HealthChecker
	limiter  *ratelimit.PeerLimiter
	transfer *service.TransferService
}

// New builds a node. The identity must be supplied; everything else defaults to cfg.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Node, error) {
	if deps.Identity == nil {
		return nil, errors.New("node identity is required")
	}
	pkg, err := cfg.Package()
	if err != nil {
		return nil, fmt.Errorf("ledger.package_id: %w", err)
	}

	n := &Node{
		cfg:      cfg,
		logger:   deps.Logger,
		identity: deps.Identity,
		store:    deps.Store,
		ledger:   deps.Ledger,
		metrics:  observability.NewMetrics(nil),
		health:   observability.NewHealthChecker(Version),
	}
	if n.logger == nil {
		n.logger = observability.Nop()
	}
	if n.store == nil {
		if n.store, err = OpenStore(ctx, cfg.Storage); err != nil {
			return nil, fmt.Errorf("failed to open content store: %w", err)
		}
	}
	if n.ledger == nil {
		n.ledger = OpenLedger(cfg.Ledger)
	}
	if cfg.Database.AuditPath != "" {
		if n.audit, err = manager.NewAuditStore(cfg.Database.AuditPath); err != nil {
			return nil, fmt.Errorf("failed to open audit database: %w", err)
		}
	}
	if cfg.Server.RateLimit > 0 {
		n.limiter = ratelimit.NewPeerLimiter(float64(cfg.Server.RateLimit), cfg.Server.RateBurst)
	}

	verifier := payment.NewVerifier(n.identity.Address(), pkg, cfg.EnvelopeEncoding())
	n.transfer = service.NewTransferService(verifier, n.ledger, n.store, service.Options{
		Logger:       n.logger,
		Metrics:      n.metrics,
		Events:       service.NewEventPublisher(cfg.Server.EventBufferSize),
		Requests:     manager.NewRequestStore(),
		Audit:        n.audit,
		QueueDepth:   cfg.Server.StreamQueue,
		MaxBlockSize: cfg.Server.MaxBlockSize,
		StreamRate:   cfg.Server.StreamRate,
	})

	n.registerChecks()
	return n, nil
}

func (n *Node) registerChecks() {
	n.health.RegisterCheck("identity", observability.KeystoreCheck(n.identity.Address().Hex()))
	n.health.RegisterCheck("ledger", observability.PingCheck("ledger", 2*time.Second, func(ctx context.Context) error {
		_, err := n.ledger.ReferenceGasPrice(ctx)
		return err
	}))
	if fsStore, ok := n.store.(*storage.FileSystemStore); ok {
		n.health.RegisterCheck("content_store", observability.DirectoryCheck(fsStore.Root()))
	} else {
		n.health.RegisterCheck("content_store", observability.PingCheck("content store", 2*time.Second, func(ctx context.Context) error {
			_, err := n.store.Has(ctx, ledger.ObjectID{})
			return err
		}))
	}
	if n.audit != nil {
		n.health.RegisterCheck("audit", observability.PingCheck("audit database", time.Second, n.audit.Ping))
	}
	if path := n.cfg.Database.CatalogPath; path != "" {
		n.health.RegisterCheck("catalog", observability.PingCheck("catalog", time.Second, func(ctx context.Context) error {
			_, err := os.Stat(path)
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}))
	}
}

// Transfer returns the node's transfer service.
func (n *Node) Transfer() *service.TransferService { return n.transfer }

// Health returns the node's health checker.
func (n *Node) Health() *observability.HealthChecker { return n.health }

// Identity returns the address payments must be made to.
func (n *Node) Identity() ledger.Address { return n.identity.Address() }

// Offered logs and returns the content ids available for sale. Catalog entries
// whose payload has disappeared are dropped.
func (n *Node) Offered(ctx context.Context) ([]ledger.ObjectID, error) {
	ids, err := n.transfer.Offered(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		n.logger.WithContent(id.Hex()).Info("Offering content")
	}
	n.logger.Infof("Offering %d content items as %s", len(ids), n.identity.Address())

	if path := n.cfg.Database.CatalogPath; path != "" {
		if cat, err := manager.OpenCatalog(path); err != nil {
			n.logger.Warn("Catalog unavailable: " + err.Error())
		} else {
			if pruned, err := cat.Prune(ids); err != nil {
				n.logger.Error(err, "Failed to prune catalog")
			} else if pruned > 0 {
				n.logger.Infof("Pruned %d stale catalog entries", pruned)
			}
			cat.Close()
		}
	}
	return ids, nil
}

// Run serves until ctx is done, then shuts the listeners down.
func (n *Node) Run(ctx context.Context) error {
	cfg := n.cfg.Server

	if _, err := n.Offered(ctx); err != nil {
		return fmt.Errorf("failed to list content: %w", err)
	}

	shutdownTracing, err := observability.InitTracing(ctx, "tuno-daemon")
	if err != nil {
		n.logger.Warn("Tracing disabled: " + err.Error())
	} else {
		defer shutdownTracing(context.Background())
	}

	grpcServer := server.NewGRPCServer(server.NewTunoAPIServer(n.transfer), n.limiter)
	handler, err := server.NewHTTPHandler(n.transfer, server.HTTPOptions{
		Audit:   n.audit,
		Health:  n.health,
		Metrics: n.metrics,
		Limiter: n.limiter,
		Logger:  n.logger,
	})
	if err != nil {
		return err
	}
	grpcStop, restStop, err := server.StartAPIServers(cfg.GRPCAddress, cfg.HTTPAddress, grpcServer, handler)
	if err != nil {
		return fmt.Errorf("failed to start API servers: %w", err)
	}
	defer grpcStop()
	defer restStop()
	n.logger.Info("gRPC listening on " + cfg.GRPCAddress)
	if cfg.HTTPAddress != "" {
		n.logger.Info("HTTP gateway listening on " + cfg.HTTPAddress)
	}

	if cfg.QUICAddress != "" {
		l, err := n.listenQUIC()
		if err != nil {
			return err
		}
		defer l.Close()
		streams := transport.NewStreamServer(n.transfer, n.cfg.EnvelopeEncoding(), n.limiter, n.logger)
		go func() {
			if err := streams.Serve(ctx, l); err != nil {
				n.logger.Error(err, "QUIC listener stopped")
			}
		}()
		n.logger.Info("QUIC listening on " + l.Addr())
	}

	if addr := n.cfg.Observability.MetricsAddress; addr != "" {
		stop := n.startObservabilityServer(addr)
		defer stop()
	}

	n.transfer.StartJanitor(ctx, janitorInterval, requestMaxAge)
	if n.limiter != nil {
		go func() {
			ticker := time.NewTicker(peerIdle)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					n.limiter.Cleanup(peerIdle)
				}
			}
		}()
	}

	n.logger.Info("Tuno daemon running")
	<-ctx.Done()
	n.logger.Info("Shutting down gracefully...")
	return nil
}

func (n *Node) listenQUIC() (*transport.QUICListener, error) {
	cfg := n.cfg.Server
	hosts := []string{"localhost"}
	if cfg.PublicHost != "" {
		hosts = append(hosts, cfg.PublicHost)
	}
	certPEM, keyPEM, err := quicutil.LoadOrCreateCert(cfg.CertDirectory, hosts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	tlsConfig, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	l, err := transport.ListenQUIC(cfg.QUICAddress, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to start QUIC listener: %w", err)
	}
	return l, nil
}

// startObservabilityServer exposes /metrics, /health and /debug/pprof.
func (n *Node) startObservabilityServer(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", n.metrics.Handler())
	mux.Handle("/health", n.health.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		n.logger.Info("Observability server listening on " + addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.logger.Error(err, "Observability server error")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// Close releases the node's databases.
func (n *Node) Close() error {
	if n.audit != nil {
		return n.audit.Close()
	}
	return nil
}
