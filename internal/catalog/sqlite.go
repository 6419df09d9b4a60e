// Package catalog persists local snapshot metadata and operation history in
// SQLite. The catalog is advisory; the remote manifests remain authoritative
// for chain resolution.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docsnap/internal/catalog/migrations"
	"docsnap/internal/snap"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCatalog implements snap.Catalog backed by a SQLite file.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

var _ snap.Catalog = (*SQLiteCatalog)(nil)

// NewSQLiteCatalog opens (or creates) the catalog at path and migrates the
// schema to the latest version. path can be ":memory:" for tests.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating catalog schema: %w", err)
	}

	return &SQLiteCatalog{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tests that need a raw connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

func (c *SQLiteCatalog) RecordSnapshot(rec *snap.SnapshotRecord) error {
	_, err := c.db.Exec(`
		INSERT INTO snapshots (id, kind, parent, created_at, status, size)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			parent = excluded.parent,
			created_at = excluded.created_at,
			status = excluded.status,
			size = excluded.size`,
		rec.ID, rec.Kind.String(), rec.Parent, rec.CreatedAt.UTC(), string(rec.Status), rec.Size)
	if err != nil {
		return fmt.Errorf("recording snapshot %s: %w", rec.ID, err)
	}
	return nil
}

func (c *SQLiteCatalog) UpdateSnapshotStatus(id string, status snap.Status) error {
	res, err := c.db.Exec("UPDATE snapshots SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("updating snapshot %s status: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("snapshot %s not found in catalog", id)
	}
	return nil
}

func (c *SQLiteCatalog) FindSnapshot(id string) (*snap.SnapshotRecord, error) {
	row := c.db.QueryRow(
		"SELECT id, kind, parent, created_at, status, size FROM snapshots WHERE id = ?", id)
	rec, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding snapshot %s: %w", id, err)
	}
	return rec, nil
}

func (c *SQLiteCatalog) ListSnapshots(limit int) ([]*snap.SnapshotRecord, error) {
	rows, err := c.db.Query(
		"SELECT id, kind, parent, created_at, status, size FROM snapshots ORDER BY created_at DESC LIMIT ?",
		int64(limit))
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var result []*snap.SnapshotRecord
	for rows.Next() {
		rec, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (c *SQLiteCatalog) DeleteSnapshot(id string) error {
	if _, err := c.db.Exec("DELETE FROM snapshots WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", id, err)
	}
	return nil
}

func (c *SQLiteCatalog) RecordOperation(rec *snap.OperationRecord) error {
	_, err := c.db.Exec(`
		INSERT INTO operations (id, operation, snapshot_id, started_at, finished_at, status)
		VALUES (?, ?, ?, ?, NULL, ?)`,
		rec.ID, rec.Operation, rec.SnapshotID, rec.StartedAt.UTC(), rec.Status)
	if err != nil {
		return fmt.Errorf("recording operation %s: %w", rec.Operation, err)
	}
	return nil
}

func (c *SQLiteCatalog) FinishOperation(id string, finishedAt time.Time, status string) error {
	_, err := c.db.Exec(
		"UPDATE operations SET finished_at = ?, status = ? WHERE id = ?",
		finishedAt.UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation %s: %w", id, err)
	}
	return nil
}

func (c *SQLiteCatalog) ListOperations(limit int) ([]*snap.OperationRecord, error) {
	rows, err := c.db.Query(`
		SELECT id, operation, snapshot_id, started_at, finished_at, status
		FROM operations ORDER BY started_at DESC LIMIT ?`, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var result []*snap.OperationRecord
	for rows.Next() {
		var (
			rec      snap.OperationRecord
			finished sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.Operation, &rec.SnapshotID, &rec.StartedAt, &finished, &rec.Status); err != nil {
			return nil, fmt.Errorf("scanning operation row: %w", err)
		}
		if finished.Valid {
			rec.FinishedAt = finished.Time
		}
		result = append(result, &rec)
	}
	return result, rows.Err()
}

// Path returns the catalog file path (or ":memory:").
func (c *SQLiteCatalog) Path() string {
	return c.path
}

func (c *SQLiteCatalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*snap.SnapshotRecord, error) {
	var (
		rec    snap.SnapshotRecord
		kind   string
		status string
	)
	if err := row.Scan(&rec.ID, &kind, &rec.Parent, &rec.CreatedAt, &status, &rec.Size); err != nil {
		return nil, err
	}
	k, err := snap.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	rec.Kind = k
	rec.Status = snap.Status(status)
	return &rec, nil
}
