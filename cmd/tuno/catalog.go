package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TunoMedia/TunoMedia/daemon/manager"
	"github.com/TunoMedia/TunoMedia/daemon/node"
)

var catalogPrune bool

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the content ids in the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := node.OpenStore(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		ids, err := store.List(ctx)
		if err != nil {
			return err
		}

		cat, err := manager.OpenCatalog(cfg.Database.CatalogPath)
		if err != nil {
			return err
		}
		defer cat.Close()

		if catalogPrune {
			n, err := cat.Prune(ids)
			if err != nil {
				return err
			}
			if n > 0 {
				color.Yellow("Removed %d stale catalog entries", n)
			}
		}

		if len(ids) == 0 {
			fmt.Println("The content store is empty")
			return nil
		}
		for _, id := range ids {
			e, err := cat.Get(id)
			if err != nil {
				fmt.Printf("%s  %s\n", id.Hex(), color.YellowString("(not cataloged)"))
				continue
			}
			fmt.Printf("%s  %s - %s  %s  %d bytes  %d chunks  %s\n",
				id.Hex(), color.CyanString(e.Artist), e.Title, e.Format, e.Size, e.Signature.Len(),
				e.StoredAt.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.Flags().BoolVar(&catalogPrune, "prune", false, "Drop catalog entries for content no longer stored")
}
