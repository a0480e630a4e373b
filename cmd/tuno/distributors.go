package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TunoMedia/TunoMedia/daemon/client"
	"github.com/TunoMedia/TunoMedia/daemon/node"
	"github.com/TunoMedia/TunoMedia/internal/ledger"
)

var distributorsSong string

var distributorsCmd = &cobra.Command{
	Use:   "distributors",
	Short: "List the distributors of a song",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := ledger.ParseObjectID(distributorsSong)
		if err != nil {
			return fmt.Errorf("invalid --song: %w", err)
		}
		song, _, err := client.ReadSong(cmd.Context(), node.OpenLedger(cfg.Ledger), id)
		if err != nil {
			return err
		}

		color.Cyan("%s - %s", song.Artist, song.Title)
		fmt.Printf("song price %d, %d chunks\n\n", song.StreamingPrice, len(song.Signature))
		if len(song.Distributors) == 0 {
			color.Yellow("No distributors")
			return nil
		}

		selector, err := client.ParseSelector(cfg.Client.Selection)
		if err != nil {
			return err
		}
		chosen, _ := selector(song)

		for _, d := range sortedDistributors(song) {
			mark := " "
			if d.Address == chosen.Address {
				mark = color.GreenString("*")
			}
			fmt.Printf("%s %s  %-40s  price %s  total %d\n",
				mark, d.Address.Hex(), d.URL,
				color.YellowString("%d", d.StreamingPrice), song.StreamingPrice+d.StreamingPrice)
		}
		return nil
	},
}

func sortedDistributors(song *ledger.Song) []ledger.Distributor {
	addrs := song.DistributorAddresses()
	out := make([]ledger.Distributor, len(addrs))
	for i, addr := range addrs {
		out[i] = song.Distributors[addr]
		out[i].Address = addr
	}
	return out
}

func init() {
	rootCmd.AddCommand(distributorsCmd)
	distributorsCmd.Flags().StringVarP(&distributorsSong, "song", "s", "", "Object id of the song")
	distributorsCmd.MarkFlagRequired("song")
}
