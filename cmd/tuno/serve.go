package main

import (
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TunoMedia/TunoMedia/daemon/node"
	"github.com/TunoMedia/TunoMedia/internal/crypto"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a distributor",
	Long: `Serve the content store to paying clients over gRPC, the HTTP gateway and,
when configured, QUIC. A new identity is created if the keystore does not exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateServer(); err != nil {
			return err
		}

		identity, err := node.LoadIdentity(cfg.Identity, promptPassphrase)
		if errors.Is(err, fs.ErrNotExist) {
			identity, err = crypto.LoadOrCreate(cfg.Identity.Keystore, cfg.Identity.Passphrase)
		}
		if err != nil {
			return err
		}
		logger.Info("Distributor identity " + identity.Address().Hex())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		n, err := node.New(ctx, cfg, node.Deps{Logger: logger, Identity: identity})
		if err != nil {
			return err
		}
		defer n.Close()
		return n.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
