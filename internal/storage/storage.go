// Package storage persists content payloads addressed by content id.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/TunoMedia/TunoMedia/internal/ledger"
)

var (
	// ErrNotFound is returned when no payload is stored under an id.
	ErrNotFound = errors.New("content not found")
	// ErrExists is returned by Put when the id is already stored and overwrite was not requested.
	ErrExists = errors.New("content already stored")
)

// Store reads and writes content payloads. Payloads are written whole and are
// never visible to readers until completely written.
type Store interface {
	// Put stores the payload read from r under id and returns its location.
	Put(ctx context.Context, id ledger.ObjectID, r io.Reader, overwrite bool) (string, error)
	// Open returns a sequential reader of the payload stored under id.
	Open(ctx context.Context, id ledger.ObjectID) (io.ReadCloser, error)
	// Has reports whether a payload is stored under id.
	Has(ctx context.Context, id ledger.ObjectID) (bool, error)
	// List returns the ids of all stored payloads.
	List(ctx context.Context) ([]ledger.ObjectID, error)
}

// PutFile stores the file at path under id.
func PutFile(ctx context.Context, s Store, id ledger.ObjectID, path string, overwrite bool) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return s.Put(ctx, id, f, overwrite)
}

// splitKey returns the two-level layout of an id: its first two hex characters and the rest.
func splitKey(id ledger.ObjectID) (string, string) {
	bare := id.Bare()
	return bare[:2], bare[2:]
}

// parseKey reverses splitKey.
func parseKey(prefix, rest string) (ledger.ObjectID, bool) {
	if len(prefix) != 2 || len(prefix)+len(rest) != 2*ledger.AddressLength {
		return ledger.ObjectID{}, false
	}
	id, err := ledger.ParseObjectID(prefix + rest)
	if err != nil {
		return ledger.ObjectID{}, false
	}
	return id, true
}
