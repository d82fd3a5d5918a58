// Package store provides the persistent local snapshot of the student
// directory.
//
// The store is an embedded SQLite database (WAL mode) holding exactly one
// roster snapshot plus the time it was last synchronized against the remote
// directory. It is the only durable state in the system: the query engine and
// option indexer work on an in-memory copy loaded from here, and write back
// only through the reconciler.
//
// Schema versioning is deliberately destructive: any bump of schemaVersion
// drops the snapshot and forces the next initialization to perform a full
// resync. The snapshot is a cache of the remote, so losing it costs one
// refetch, never data.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yatin-bhojwani/compass/internal/directory"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// schemaVersion is recorded in PRAGMA user_version. Bumping it drops and
// recreates the tables on the next Open.
const schemaVersion = 1

var (
	// ErrStoreUnavailable reports that the local database cannot be opened
	// or written. Callers recover by treating the cache as absent.
	ErrStoreUnavailable = errors.New("local store unavailable")

	// ErrNoLocalData reports that no snapshot has ever been stored.
	ErrNoLocalData = errors.New("no local snapshot")

	// ErrCorruptLocalData reports that a stored snapshot could not be read
	// back as a well-formed roster.
	ErrCorruptLocalData = errors.New("local snapshot is corrupt")
)

// Store wraps the snapshot database.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the snapshot database at path. It is idempotent:
// reopening an up-to-date database is a no-op, while a schema version change
// drops and recreates the tables, losing any existing snapshot.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database directory: %v", ErrStoreUnavailable, err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Single snapshot, single writer. A small pool is plenty.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%w: %s failed: %v", ErrStoreUnavailable, pragma, err)
		}
	}

	if err := s.migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

// migrate creates the schema, destructively recreating it when the recorded
// user_version does not match schemaVersion.
func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("%w: failed to read schema version: %v", ErrStoreUnavailable, err)
	}

	if version != 0 && version != schemaVersion {
		// Old snapshot layout. Drop it; the next sync refetches everything.
		if _, err := s.conn.ExecContext(ctx, `
			DROP TABLE IF EXISTS students;
			DROP TABLE IF EXISTS sync_state;
		`); err != nil {
			return fmt.Errorf("%w: failed to drop outdated schema: %v", ErrStoreUnavailable, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS students (
		user_id   TEXT PRIMARY KEY,
		roll_no   TEXT NOT NULL,
		name      TEXT NOT NULL,
		dept      TEXT NOT NULL DEFAULT '',
		course    TEXT NOT NULL DEFAULT '',
		gender    TEXT NOT NULL DEFAULT '',
		hall      TEXT NOT NULL DEFAULT '',
		room_no   TEXT NOT NULL DEFAULT '',
		home_town TEXT NOT NULL DEFAULT '',
		email     TEXT NOT NULL DEFAULT '',
		bapu      TEXT NOT NULL DEFAULT '',
		bachhas   TEXT NOT NULL DEFAULT ''
	);

	-- Exactly one row (id = 1) holding the last-sync timestamp.
	CREATE TABLE IF NOT EXISTS sync_state (
		id           INTEGER PRIMARY KEY CHECK (id = 1),
		last_sync_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_students_roll ON students(roll_no);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: failed to create schema: %v", ErrStoreUnavailable, err)
	}

	if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", schemaVersion)); err != nil {
		return fmt.Errorf("%w: failed to record schema version: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// LastSyncTime returns the epoch-millisecond time of the last successful
// sync, or 0 when no snapshot has ever been stored or the read fails.
// Failing open toward 0 makes every error path lead to a full resync rather
// than serving stale data forever.
func (s *Store) LastSyncTime(ctx context.Context) int64 {
	if s.conn == nil {
		return 0
	}
	var ms int64
	err := s.conn.QueryRowContext(ctx, "SELECT last_sync_ms FROM sync_state WHERE id = 1").Scan(&ms)
	if err != nil {
		return 0
	}
	return ms
}

// ReplaceSnapshot transactionally replaces the entire roster and stamps the
// current time as the last-sync time.
func (s *Store) ReplaceSnapshot(ctx context.Context, records []directory.StudentRecord) error {
	return s.ReplaceSnapshotAt(ctx, records, time.Now().UnixMilli())
}

// ReplaceSnapshotAt transactionally replaces the entire roster and records
// syncMillis as the last-sync time. Either both writes land or neither is
// observable.
func (s *Store) ReplaceSnapshotAt(ctx context.Context, records []directory.StudentRecord, syncMillis int64) error {
	if s.conn == nil {
		return ErrStoreUnavailable
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM students"); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrStoreUnavailable, err)
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO students (
			user_id, roll_no, name, dept, course, gender,
			hall, room_no, home_town, email, bapu, bachhas
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", ErrStoreUnavailable, err)
	}
	defer insert.Close()

	for i := range records {
		r := &records[i]
		if _, err := insert.ExecContext(ctx,
			r.UserID, r.RollNo, r.Name, r.Dept, r.Course, r.Gender,
			r.Hall, r.RoomNo, r.HomeTown, r.Email, r.Bapu, r.Bachhas,
		); err != nil {
			return fmt.Errorf("%w: insert %s: %v", ErrStoreUnavailable, r.RollNo, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (id, last_sync_ms) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_sync_ms = excluded.last_sync_ms
	`, syncMillis); err != nil {
		return fmt.Errorf("%w: sync time: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ReadSnapshot loads the stored roster. Returns ErrNoLocalData when no
// snapshot has ever been stored, ErrCorruptLocalData when stored rows cannot
// be read back.
func (s *Store) ReadSnapshot(ctx context.Context) ([]directory.StudentRecord, error) {
	if s.conn == nil {
		return nil, ErrStoreUnavailable
	}

	// The sync_state row is the marker that a snapshot exists at all; an
	// empty roster with a sync row is a valid (if unusual) snapshot.
	var ms int64
	err := s.conn.QueryRowContext(ctx, "SELECT last_sync_ms FROM sync_state WHERE id = 1").Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoLocalData
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT user_id, roll_no, name, dept, course, gender,
		       hall, room_no, home_town, email, bapu, bachhas
		FROM students
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var roster []directory.StudentRecord
	for rows.Next() {
		var r directory.StudentRecord
		if err := rows.Scan(
			&r.UserID, &r.RollNo, &r.Name, &r.Dept, &r.Course, &r.Gender,
			&r.Hall, &r.RoomNo, &r.HomeTown, &r.Email, &r.Bapu, &r.Bachhas,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptLocalData, err)
		}
		roster = append(roster, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptLocalData, err)
	}
	return roster, nil
}

// Count returns the number of stored student records.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.conn == nil {
		return 0, ErrStoreUnavailable
	}
	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM students").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// DeleteAll irreversibly wipes the snapshot and the sync marker in one
// transaction. The next initialization behaves exactly like a first run.
func (s *Store) DeleteAll(ctx context.Context) error {
	if s.conn == nil {
		return ErrStoreUnavailable
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM students"); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_state"); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Destroy closes the store and removes the database file along with its WAL
// sidecars. Used when the user revokes directory visibility entirely.
func (s *Store) Destroy() error {
	path := s.path
	if err := s.Close(); err != nil {
		return err
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}
