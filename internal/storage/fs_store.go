package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/TunoMedia/TunoMedia/internal/ledger"
)

// FileSystemStore keeps payloads under root/<first 2 hex chars>/<remaining hex chars>,
// holding the raw bytes with no header.
type FileSystemStore struct {
	root string
}

var _ Store = (*FileSystemStore)(nil)

// NewFileSystemStore creates a store rooted at root, creating the directory if needed.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

// Root returns the storage root directory.
func (s *FileSystemStore) Root() string {
	return s.root
}

// Path returns the location a payload for id is stored at.
func (s *FileSystemStore) Path(id ledger.ObjectID) string {
	prefix, rest := splitKey(id)
	return filepath.Join(s.root, prefix, rest)
}

// Put implements Store. The payload is written to a temporary file next to its
// destination and then moved into place.
func (s *FileSystemStore) Put(ctx context.Context, id ledger.ObjectID, r io.Reader, overwrite bool) (string, error) {
	finalPath := s.Path(id)
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	if !overwrite {
		if _, err := os.Stat(finalPath); err == nil {
			return "", fmt.Errorf("%w: %s", ErrExists, id)
		}
	}

	tmpFile, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmpFile.Name())

	if _, err := io.Copy(tmpFile, contextReader{ctx: ctx, r: r}); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to write %s: %w", id, err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return "", err
	}
	if err := tmpFile.Close(); err != nil {
		return "", err
	}

	if overwrite {
		if err := os.Rename(tmpFile.Name(), finalPath); err != nil {
			return "", err
		}
		return finalPath, nil
	}

	// Link fails if the destination appeared meanwhile
	if err := os.Link(tmpFile.Name(), finalPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, id)
		}
		return "", err
	}
	return finalPath, nil
}

// Open implements Store.
func (s *FileSystemStore) Open(ctx context.Context, id ledger.ObjectID) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return f, nil
}

// Has implements Store.
func (s *FileSystemStore) Has(ctx context.Context, id ledger.ObjectID) (bool, error) {
	_, err := os.Stat(s.Path(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// List implements Store. Ids are derived from the directory layout alone;
// entries that do not form a valid id are skipped.
func (s *FileSystemStore) List(ctx context.Context) ([]ledger.ObjectID, error) {
	prefixes, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var ids []ledger.ObjectID
	for _, p := range prefixes {
		if !p.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.root, p.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if id, ok := parseKey(p.Name(), e.Name()); ok {
				ids = append(ids, id)
			}
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].Bare() < ids[j].Bare() })
	return ids, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
