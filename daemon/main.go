package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/TunoMedia/TunoMedia/daemon/config"
	"github.com/TunoMedia/TunoMedia/daemon/node"
	"github.com/TunoMedia/TunoMedia/internal/crypto"
	"github.com/TunoMedia/TunoMedia/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration (default: $TUNO_CONFIG)")
	flag.Parse()

	logger := observability.NewLogger("tuno-daemon", node.Version, os.Stdout)
	logger.Info("Tuno daemon starting...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal(err, "Failed to load config")
	}
	if err := observability.SetLevel(cfg.Observability.LogLevel); err != nil {
		logger.Fatal(err, "Invalid log level")
	}
	if err := cfg.ValidateServer(); err != nil {
		logger.Fatal(err, "Invalid configuration")
	}
	logger.Infof("Configuration loaded: grpc=%s http=%s quic=%s storage=%s",
		cfg.Server.GRPCAddress, cfg.Server.HTTPAddress, cfg.Server.QUICAddress, cfg.Storage.Backend)

	// The daemon cannot prompt; the passphrase comes from $TUNO_PASSPHRASE
	identity, err := crypto.LoadOrCreate(cfg.Identity.Keystore, cfg.Identity.Passphrase)
	if err != nil {
		logger.Fatal(err, "Failed to load identity")
	}
	logger.Info("Distributor identity " + identity.Address().Hex())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := node.New(ctx, cfg, node.Deps{Logger: logger, Identity: identity})
	if err != nil {
		logger.Fatal(err, "Failed to initialize node")
	}
	defer n.Close()

	if err := n.Run(ctx); err != nil {
		logger.Fatal(err, "Daemon stopped")
	}
	logger.Info("Daemon stopped")
}
