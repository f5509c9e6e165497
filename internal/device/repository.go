package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// HistoryRepository persists snapshots of devices the daemon has seen.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type HistoryRepository interface {
	// Get returns the snapshot stored for a device id.
	// Returns ErrDeviceNotFound if the device was never seen.
	Get(ctx context.Context, id string) (*Snapshot, error)

	// Save inserts or replaces a snapshot and marks the device present.
	Save(ctx context.Context, s *Snapshot) error

	// MarkRemoved records that a device went away.
	// Returns ErrDeviceNotFound if the device was never saved.
	MarkRemoved(ctx context.Context, id string, at time.Time) error

	// List returns every stored snapshot ordered by id.
	List(ctx context.Context) ([]Snapshot, error)
}

// SQLiteRepository implements HistoryRepository using SQLite.
// Record fields are stored as a CBOR blob next to indexed columns.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Get retrieves a snapshot by device id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Snapshot, error) {
	query := `
		SELECT id, snapshot, first_seen, last_seen, removed_at
		FROM device_history
		WHERE id = ?`

	s, err := scanSnapshot(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device history: %w", err)
	}
	return s, nil
}

// Save upserts a snapshot. first_seen is kept from the existing row.
func (r *SQLiteRepository) Save(ctx context.Context, s *Snapshot) error {
	if s == nil || s.ID == "" {
		return ErrInvalidDevice
	}
	blob, err := MarshalSnapshot(s)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	now := r.now().UTC().Format(time.RFC3339Nano)
	query := `
		INSERT INTO device_history (id, physical_id, plugin, snapshot, first_seen, last_seen, removed_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET
			physical_id = excluded.physical_id,
			plugin = excluded.plugin,
			snapshot = excluded.snapshot,
			last_seen = excluded.last_seen,
			removed_at = NULL`

	if _, err := r.db.ExecContext(ctx, query, s.ID, s.PhysicalID, s.Plugin, blob, now, now); err != nil {
		return fmt.Errorf("saving device history: %w", err)
	}
	return nil
}

// MarkRemoved sets removed_at for a device.
func (r *SQLiteRepository) MarkRemoved(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE device_history SET removed_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("marking device removed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// List retrieves every snapshot ordered by id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, snapshot, first_seen, last_seen, removed_at
		FROM device_history
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying device history: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device history: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device history: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var (
		id                  string
		blob                []byte
		firstSeen, lastSeen string
		removedAt           sql.NullString
	)
	if err := row.Scan(&id, &blob, &firstSeen, &lastSeen, &removedAt); err != nil {
		return nil, err
	}

	s, err := UnmarshalSnapshot(blob)
	if err != nil {
		return nil, err
	}
	s.ID = id
	s.FirstSeen = parseTime(firstSeen)
	s.LastSeen = parseTime(lastSeen)
	if removedAt.Valid {
		t := parseTime(removedAt.String)
		s.RemovedAt = &t
	}
	return s, nil
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
