package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TunoMedia/TunoMedia/daemon/client"
	"github.com/TunoMedia/TunoMedia/daemon/manager"
	"github.com/TunoMedia/TunoMedia/daemon/node"
	"github.com/TunoMedia/TunoMedia/internal/ledger"
	"github.com/TunoMedia/TunoMedia/internal/quicutil"
)

var (
	downloadSong        string
	downloadWhole       bool
	downloadOverwrite   bool
	downloadQUIC        string
	downloadDistributor string
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Buy a song from a distributor",
	Long: `Pay a distributor for a song, verify every chunk against the on-ledger signature
and store the result. Nothing is stored if any chunk fails verification.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		id, err := ledger.ParseObjectID(downloadSong)
		if err != nil {
			return fmt.Errorf("invalid --song: %w", err)
		}
		pkg, err := cfg.Package()
		if err != nil {
			return err
		}

		selector, err := client.ParseSelector(cfg.Client.Selection)
		if err != nil {
			return err
		}
		if downloadDistributor != "" {
			addr, err := ledger.ParseAddress(downloadDistributor)
			if err != nil {
				return fmt.Errorf("invalid --distributor: %w", err)
			}
			selector = client.SelectAddress(addr)
		}

		identity, err := node.LoadIdentity(cfg.Identity, promptPassphrase)
		if err != nil {
			return fmt.Errorf("failed to load identity (run 'tuno keygen' first): %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		payer, err := client.NewPayer(node.OpenLedger(cfg.Ledger), identity, pkg, cfg.Ledger.CoinType, cfg.Ledger.GasBudget)
		if err != nil {
			return err
		}
		store, err := node.OpenStore(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		cat, err := manager.OpenCatalog(cfg.Database.CatalogPath)
		if err != nil {
			return err
		}
		defer cat.Close()

		d := client.NewDownloader(payer, store, client.Options{
			Logger:    logger,
			Catalog:   cat,
			Selector:  selector,
			Encoding:  cfg.EnvelopeEncoding(),
			BlockSize: cfg.Client.BlockSize,
			Signature: cfg.ChunkOptions(),
			Dial:      client.DialOptions{Proxy: cfg.Client.Proxy, Timeout: cfg.Client.DialTimeout},
			QUICTLS:   quicutil.MakeClientTLSConfig(cfg.Client.Insecure),
		})

		res, err := d.Download(ctx, client.Request{
			Song:        id,
			Whole:       downloadWhole,
			Overwrite:   downloadOverwrite,
			QUICAddress: downloadQUIC,
		})
		if err != nil {
			return err
		}

		color.Green("Downloaded %q (%d bytes, %d chunks) in %s", res.Title, res.Size, res.Chunks, res.Elapsed.Round(time.Millisecond))
		fmt.Printf("  distributor: %s (%s)\n", res.Distributor.Address.Hex(), res.Distributor.URL)
		fmt.Printf("  paid:        %d\n", res.Price)
		fmt.Printf("  transaction: %s\n", res.Transaction)
		fmt.Printf("  stored at:   %s\n", res.Location)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringVarP(&downloadSong, "song", "s", "", "Object id of the song to buy")
	downloadCmd.Flags().BoolVar(&downloadWhole, "whole", false, "Fetch the payload in one response instead of streaming")
	downloadCmd.Flags().BoolVar(&downloadOverwrite, "overwrite", false, "Replace content already in the store")
	downloadCmd.Flags().StringVar(&downloadQUIC, "quic", "", "Stream over QUIC from this host:port")
	downloadCmd.Flags().StringVar(&downloadDistributor, "distributor", "", "Buy from this distributor address")
	downloadCmd.MarkFlagRequired("song")
}
