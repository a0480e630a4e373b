package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"github.com/TunoMedia/TunoMedia/internal/chunker"
	"github.com/TunoMedia/TunoMedia/internal/ledger"
)

var ErrNotCataloged = errors.New("content not in catalog")

var bucketCatalog = []byte("catalog")

// CatalogEntry describes a payload held by this node.
type CatalogEntry struct {
	ContentID ledger.ObjectID    `json:"content_id"`
	Title     string             `json:"title,omitempty"`
	Artist    string             `json:"artist,omitempty"`
	Location  string             `json:"location"`
	Size      int64              `json:"size"`
	Format    string             `json:"format,omitempty"`
	Signature *chunker.Signature `json:"signature"`
	StoredAt  time.Time          `json:"stored_at"`
}

// Catalog is a bolt-backed index of stored content and its signatures.
type Catalog struct {
	db *bolt.DB
}

// OpenCatalog opens the catalog database at path.
func OpenCatalog(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketCatalog)
		return e
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// Path returns the database file.
func (c *Catalog) Path() string { return c.db.Path() }

// Put records or replaces the entry for e.ContentID.
func (c *Catalog) Put(e CatalogEntry) error {
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketCatalog)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		return bk.Put(e.ContentID[:], data)
	})
}

// Get returns the entry for id.
func (c *Catalog) Get(id ledger.ObjectID) (*CatalogEntry, error) {
	var e *CatalogEntry
	err := c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketCatalog)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		v := bk.Get(id[:])
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotCataloged, id)
		}
		e = new(CatalogEntry)
		return json.Unmarshal(v, e)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// List returns all entries ordered by content id.
func (c *Catalog) List() ([]CatalogEntry, error) {
	var out []CatalogEntry
	err := c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketCatalog)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		return bk.ForEach(func(k, v []byte) error {
			var e CatalogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("corrupt catalog entry %x: %w", k, err)
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// Delete removes the entry for id. Deleting an absent id is not an error.
func (c *Catalog) Delete(id ledger.ObjectID) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketCatalog)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		return bk.Delete(id[:])
	})
}

// Prune drops entries whose payload is no longer stored and returns how many were removed.
func (c *Catalog) Prune(stored []ledger.ObjectID) (int, error) {
	keep := make(map[ledger.ObjectID]bool, len(stored))
	for _, id := range stored {
		keep[id] = true
	}

	removed := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketCatalog)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		// Deleting through a cursor skips the following key, so collect first
		var stale [][]byte
		cur := bk.Cursor()
		for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
			var id ledger.ObjectID
			copy(id[:], k)
			if !keep[id] {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := bk.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
