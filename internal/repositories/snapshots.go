package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/csync/internal/shared"
)

// Snapshot is one stored row.
type Snapshot struct {
	Key     string
	Version int
	Payload []byte
	SavedAt time.Time
}

// SnapshotRepository stores versioned payloads keyed by name.
type SnapshotRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSnapshotRepository creates a new SnapshotRepository with the given database connection
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db, now: time.Now}
}

// Save inserts or replaces the payload stored under key.
func (r *SnapshotRepository) Save(ctx context.Context, key string, version int, data []byte) error {
	if key == "" {
		return fmt.Errorf("%w: snapshot key is required", shared.ErrInvalidInput)
	}

	query := `
		INSERT INTO snapshots (key, version, payload, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			version = excluded.version,
			payload = excluded.payload,
			saved_at = excluded.saved_at
	`
	if _, err := r.db.ExecContext(ctx, query, key, version, data, r.now().UTC()); err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", key, err)
	}
	return nil
}

// Load returns the version and payload stored under key, or [shared.ErrSnapshotNotFound].
func (r *SnapshotRepository) Load(ctx context.Context, key string) (int, []byte, error) {
	snap, err := r.Get(ctx, key)
	if err != nil {
		return 0, nil, err
	}
	return snap.Version, snap.Payload, nil
}

// Get returns the full row stored under key.
func (r *SnapshotRepository) Get(ctx context.Context, key string) (*Snapshot, error) {
	query := `SELECT key, version, payload, saved_at FROM snapshots WHERE key = ?`

	snap := &Snapshot{}
	err := r.db.QueryRowContext(ctx, query, key).Scan(&snap.Key, &snap.Version, &snap.Payload, &snap.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrSnapshotNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}
	return snap, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *SnapshotRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", key, err)
	}
	return nil
}

// Keys lists stored keys in order.
func (r *SnapshotRepository) Keys(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key FROM snapshots ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
