package manager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var ErrDatabaseNotInitialized = errors.New("database not initialized")

// AuditStore records served requests in SQLite.
type AuditStore struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// NewAuditStore opens (or creates) the audit database at dbPath.
func NewAuditStore(dbPath string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &AuditStore{
		db:   db,
		path: dbPath,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (as *AuditStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS served_requests (
			request_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			peer TEXT,
			content_id TEXT,
			tx_digest TEXT,
			counterparty TEXT,
			block_size INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			bytes_served INTEGER NOT NULL DEFAULT 0,
			chunks_served INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_requests_state ON served_requests(state);
		CREATE INDEX IF NOT EXISTS idx_requests_content ON served_requests(content_id);
	`

	if _, err := as.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var version int
	err := as.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := as.db.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to query schema version: %w", err)
	}

	return nil
}

// SaveRequest persists the current snapshot of a request.
func (as *AuditStore) SaveRequest(snap Snapshot) error {
	if as == nil || as.db == nil {
		return ErrDatabaseNotInitialized
	}
	as.mu.Lock()
	defer as.mu.Unlock()

	query := `
		INSERT OR REPLACE INTO served_requests
		(request_id, kind, peer, content_id, tx_digest, counterparty, block_size,
		 state, bytes_served, chunks_served, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := as.db.Exec(query,
		snap.ID,
		snap.Kind,
		snap.Peer,
		snap.ContentID,
		snap.TxDigest,
		snap.Counterparty,
		snap.BlockSize,
		snap.State,
		snap.BytesServed,
		snap.ChunksServed,
		snap.Error,
		snap.StartTime.UTC(),
		snap.UpdateTime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

const selectRequest = `
	SELECT request_id, kind, peer, content_id, tx_digest, counterparty, block_size,
	       state, bytes_served, chunks_served, error, created_at, updated_at
	FROM served_requests
`

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (Snapshot, error) {
	var (
		snap                                    Snapshot
		peer, content, digest, counterpart, msg sql.NullString
	)
	err := row.Scan(
		&snap.ID, &snap.Kind, &peer, &content, &digest, &counterpart, &snap.BlockSize,
		&snap.State, &snap.BytesServed, &snap.ChunksServed, &msg, &snap.StartTime, &snap.UpdateTime,
	)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Peer = peer.String
	snap.ContentID = content.String
	snap.TxDigest = digest.String
	snap.Counterparty = counterpart.String
	snap.Error = msg.String
	return snap, nil
}

// LoadRequest retrieves a request record by id.
func (as *AuditStore) LoadRequest(id string) (Snapshot, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()

	snap, err := scanSnapshot(as.db.QueryRow(selectRequest+"WHERE request_id = ?", id))
	if err == sql.ErrNoRows {
		return Snapshot{}, ErrRequestNotFound
	} else if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load request: %w", err)
	}
	return snap, nil
}

// ListRequests returns records newest first, optionally filtered by state, and the total count.
func (as *AuditStore) ListRequests(filterState *RequestState, limit, offset int) ([]Snapshot, int, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	var (
		where string
		args  []any
	)
	if filterState != nil {
		where = "WHERE state = ? "
		args = append(args, filterState.String())
	}

	rows, err := as.db.Query(selectRequest+where+"ORDER BY created_at DESC LIMIT ? OFFSET ?", append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan request: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := as.db.QueryRow("SELECT COUNT(*) FROM served_requests "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	return out, total, nil
}

// Ping checks the database connection.
func (as *AuditStore) Ping(ctx context.Context) error {
	if as == nil || as.db == nil {
		return ErrDatabaseNotInitialized
	}
	return as.db.PingContext(ctx)
}

// Close closes the database connection
func (as *AuditStore) Close() error {
	if as.db != nil {
		return as.db.Close()
	}
	return nil
}
