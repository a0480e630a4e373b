package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TunoMedia/TunoMedia/daemon/client"
	"github.com/TunoMedia/TunoMedia/daemon/manager"
	"github.com/TunoMedia/TunoMedia/daemon/node"
	"github.com/TunoMedia/TunoMedia/internal/chunker"
	"github.com/TunoMedia/TunoMedia/internal/ledger"
	"github.com/TunoMedia/TunoMedia/internal/media"
	"github.com/TunoMedia/TunoMedia/internal/storage"
)

var (
	addFile      string
	addSong      string
	addOverwrite bool
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a local file to the content store",
	Long: `Add a local copy of a published song to the content store. The file is only
stored when its signature matches the one recorded on the ledger.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		id, err := ledger.ParseObjectID(addSong)
		if err != nil {
			return fmt.Errorf("invalid --song: %w", err)
		}

		ctx := cmd.Context()
		store, err := node.OpenStore(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		cat, err := manager.OpenCatalog(cfg.Database.CatalogPath)
		if err != nil {
			return err
		}
		defer cat.Close()

		entry, streamable, err := addContent(ctx, node.OpenLedger(cfg.Ledger), store, cat, cfg.ChunkOptions(), id, addFile, addOverwrite)
		if err != nil {
			return err
		}
		log := logger.WithContent(id.Hex())
		log.ContentStored(entry.Location, entry.Size, entry.Signature.Len())
		if !streamable {
			log.Warn("moov atom follows the media data; players must buffer the whole file")
		}
		fmt.Printf("Added %q by %s (%s) as %s\n", entry.Title, entry.Artist, entry.Format, entry.Location)
		return nil
	},
}

// addContent checks path against the on-ledger signature of id, then stores and catalogs it.
// The second result reports whether the file can be played while it streams.
func addContent(ctx context.Context, l ledger.Ledger, store storage.Store, cat *manager.Catalog, opts chunker.Options, id ledger.ObjectID, path string, overwrite bool) (*manager.CatalogEntry, bool, error) {
	song, _, err := client.ReadSong(ctx, l, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read song: %w", err)
	}
	if len(song.Signature) == 0 {
		return nil, false, fmt.Errorf("%w: %s", client.ErrNoSignature, id)
	}
	want, err := chunker.NewSignature(song.Signature, opts)
	if err != nil {
		return nil, false, fmt.Errorf("invalid signature of %s: %w", id, err)
	}
	got, err := chunker.BuildFile(path, opts)
	if err != nil {
		return nil, false, err
	}
	if !got.Equal(want) {
		return nil, false, fmt.Errorf("%w: %s does not match the signature of %s", chunker.ErrIntegrity, path, id)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}
	kind, err := media.InspectFile(path)
	if err != nil {
		return nil, false, err
	}
	loc, err := storage.PutFile(ctx, store, id, path, overwrite)
	if errors.Is(err, storage.ErrExists) {
		return nil, false, fmt.Errorf("%w (use --overwrite to replace it)", err)
	}
	if err != nil {
		return nil, false, err
	}

	entry := manager.CatalogEntry{
		ContentID: id,
		Title:     song.Title,
		Artist:    song.Artist,
		Location:  loc,
		Size:      info.Size(),
		Format:    string(kind.Format),
		Signature: want,
	}
	if err := cat.Put(entry); err != nil {
		return nil, false, err
	}
	return &entry, kind.Streamable, nil
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVarP(&addFile, "file", "f", "", "Path to the media file")
	addCmd.Flags().StringVarP(&addSong, "song", "s", "", "Object id of the published song")
	addCmd.Flags().BoolVar(&addOverwrite, "overwrite", false, "Replace content already in the store")
	addCmd.MarkFlagRequired("file")
	addCmd.MarkFlagRequired("song")
}
