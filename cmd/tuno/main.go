// Command tuno runs a distributor and buys, verifies and stores content from others.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TunoMedia/TunoMedia/daemon/config"
	"github.com/TunoMedia/TunoMedia/daemon/node"
	"github.com/TunoMedia/TunoMedia/internal/observability"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tuno",
	Short: "Payment-gated media distribution",
	Long: `tuno serves paid media as a distributor and downloads media from other
distributors, verifying every chunk against the signature recorded on the ledger.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Observability.LogLevel = logLevel
		}
		if err := observability.SetLevel(cfg.Observability.LogLevel); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		logger = observability.NewLogger("tuno", node.Version, os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration (default: $TUNO_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
