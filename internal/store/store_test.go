package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/yatin-bhojwani/compass/internal/directory"
)

// testStorePath returns a temporary path for test databases.
func testStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "directory.db")
}

func sampleRoster() []directory.StudentRecord {
	return []directory.StudentRecord{
		{
			UserID: "11111111-1111-1111-1111-111111111111",
			RollNo: "200123", Name: "Aakash Verma", Dept: "CSE", Course: "BT",
			Gender: "M", Hall: "Hall 2", RoomNo: "C-212",
			HomeTown: "Kanpur", Email: "aakash@iitk.ac.in",
			Bapu: "190772", Bachhas: "{230228, 230469}",
		},
		{
			UserID: "22222222-2222-2222-2222-222222222222",
			RollNo: "210456", Name: "Priya Singh", Dept: "EE", Course: "BT",
			Gender: "F", Hall: "Hall 6", RoomNo: "A-101",
			HomeTown: "Lucknow", Email: "priyas@iitk.ac.in",
			Bapu: directory.NotAvailable, Bachhas: directory.NotAvailable,
		},
	}
}

func TestOpen_CreatesDatabase(t *testing.T) {
	path := testStorePath(t)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := testStorePath(t)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if err := s.ReplaceSnapshot(context.Background(), sampleRoster()); err != nil {
		t.Fatalf("ReplaceSnapshot() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s.Close()

	roster, err := s.ReadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("ReadSnapshot() after reopen failed: %v", err)
	}
	if len(roster) != 2 {
		t.Errorf("snapshot survived reopen with %d records, want 2", len(roster))
	}
}

func TestOpen_SchemaVersionMismatchDropsSnapshot(t *testing.T) {
	path := testStorePath(t)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	ctx := context.Background()
	if err := s.ReplaceSnapshot(ctx, sampleRoster()); err != nil {
		t.Fatalf("ReplaceSnapshot() failed: %v", err)
	}

	// Simulate a database written by a different schema revision.
	if _, err := s.conn.Exec("PRAGMA user_version=99"); err != nil {
		t.Fatalf("failed to rewrite user_version: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	// Reopening must drop the outdated snapshot and behave like a first run.
	s, err = Open(path)
	if err != nil {
		t.Fatalf("Open() after version change failed: %v", err)
	}
	defer s.Close()

	if _, err := s.ReadSnapshot(ctx); !errors.Is(err, ErrNoLocalData) {
		t.Errorf("ReadSnapshot() after version change = %v, want ErrNoLocalData", err)
	}
	if got := s.LastSyncTime(ctx); got != 0 {
		t.Errorf("LastSyncTime() after version change = %d, want 0", got)
	}

	// And the store is fully usable again at the current version.
	if err := s.ReplaceSnapshot(ctx, sampleRoster()); err != nil {
		t.Fatalf("ReplaceSnapshot() after recreate failed: %v", err)
	}
	roster, err := s.ReadSnapshot(ctx)
	if err != nil {
		t.Fatalf("ReadSnapshot() after recreate failed: %v", err)
	}
	if len(roster) != 2 {
		t.Errorf("roster = %d records after recreate, want 2", len(roster))
	}
}

func TestLastSyncTime_EmptyStore(t *testing.T) {
	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if got := s.LastSyncTime(context.Background()); got != 0 {
		t.Errorf("LastSyncTime() on empty store = %d, want 0", got)
	}
}

func TestReplaceSnapshot_Idempotent(t *testing.T) {
	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	roster := sampleRoster()
	if err := s.ReplaceSnapshot(ctx, roster); err != nil {
		t.Fatalf("first ReplaceSnapshot() failed: %v", err)
	}
	first := s.LastSyncTime(ctx)
	if first == 0 {
		t.Fatal("LastSyncTime() = 0 after ReplaceSnapshot()")
	}

	time.Sleep(5 * time.Millisecond)
	if err := s.ReplaceSnapshot(ctx, roster); err != nil {
		t.Fatalf("second ReplaceSnapshot() failed: %v", err)
	}

	got, err := s.ReadSnapshot(ctx)
	if err != nil {
		t.Fatalf("ReadSnapshot() failed: %v", err)
	}
	if len(got) != len(roster) {
		t.Fatalf("ReadSnapshot() returned %d records, want %d", len(got), len(roster))
	}
	// Order-insensitive set equality by UserID.
	byID := make(map[string]directory.StudentRecord, len(got))
	for _, r := range got {
		byID[r.UserID] = r
	}
	for _, want := range roster {
		r, ok := byID[want.UserID]
		if !ok {
			t.Fatalf("record %s missing after double replace", want.UserID)
		}
		if r != want {
			t.Errorf("record %s = %+v, want %+v", want.UserID, r, want)
		}
	}

	if second := s.LastSyncTime(ctx); second < first {
		t.Errorf("LastSyncTime() went backwards: %d -> %d", first, second)
	}
}

func TestReplaceSnapshotAt_RecordsGivenTime(t *testing.T) {
	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	const stamp = int64(1724800000000)
	if err := s.ReplaceSnapshotAt(ctx, sampleRoster(), stamp); err != nil {
		t.Fatalf("ReplaceSnapshotAt() failed: %v", err)
	}
	if got := s.LastSyncTime(ctx); got != stamp {
		t.Errorf("LastSyncTime() = %d, want %d", got, stamp)
	}
}

func TestReadSnapshot_NoData(t *testing.T) {
	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	_, err = s.ReadSnapshot(context.Background())
	if !errors.Is(err, ErrNoLocalData) {
		t.Errorf("ReadSnapshot() on empty store = %v, want ErrNoLocalData", err)
	}
}

func TestReadSnapshot_EmptyRosterIsValid(t *testing.T) {
	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.ReplaceSnapshot(ctx, nil); err != nil {
		t.Fatalf("ReplaceSnapshot(nil) failed: %v", err)
	}
	roster, err := s.ReadSnapshot(ctx)
	if err != nil {
		t.Fatalf("ReadSnapshot() failed: %v", err)
	}
	if len(roster) != 0 {
		t.Errorf("roster = %v, want empty", roster)
	}
}

func TestReadSnapshot_CorruptRow(t *testing.T) {
	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.ReplaceSnapshot(ctx, sampleRoster()); err != nil {
		t.Fatalf("ReplaceSnapshot() failed: %v", err)
	}

	// SQLite's flexible typing makes genuinely unreadable row data hard to
	// plant through the normal write path. Rebuild the table without the
	// NOT NULL constraints and insert a row of NULLs; scanning NULL into a
	// string column is the corruption ReadSnapshot must classify.
	if _, err := s.conn.Exec(`
		DROP TABLE students;
		CREATE TABLE students (
			user_id   TEXT PRIMARY KEY,
			roll_no   TEXT, name     TEXT, dept  TEXT, course  TEXT,
			gender    TEXT, hall     TEXT, room_no TEXT, home_town TEXT,
			email     TEXT, bapu     TEXT, bachhas TEXT
		);
		INSERT INTO students (user_id) VALUES ('broken-row');
	`); err != nil {
		t.Fatalf("failed to plant corrupt row: %v", err)
	}

	if _, err := s.ReadSnapshot(ctx); !errors.Is(err, ErrCorruptLocalData) {
		t.Errorf("ReadSnapshot() over corrupt row = %v, want ErrCorruptLocalData", err)
	}
}

func TestDeleteAll_ForcesFirstRunBehavior(t *testing.T) {
	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.ReplaceSnapshot(ctx, sampleRoster()); err != nil {
		t.Fatalf("ReplaceSnapshot() failed: %v", err)
	}
	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll() failed: %v", err)
	}

	if got := s.LastSyncTime(ctx); got != 0 {
		t.Errorf("LastSyncTime() after DeleteAll = %d, want 0", got)
	}
	if _, err := s.ReadSnapshot(ctx); !errors.Is(err, ErrNoLocalData) {
		t.Errorf("ReadSnapshot() after DeleteAll = %v, want ErrNoLocalData", err)
	}
}

func TestCount(t *testing.T) {
	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Count() on empty store = %d, want 0", n)
	}

	if err := s.ReplaceSnapshot(ctx, sampleRoster()); err != nil {
		t.Fatalf("ReplaceSnapshot() failed: %v", err)
	}
	n, err = s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestDestroy_RemovesDatabaseFile(t *testing.T) {
	path := testStorePath(t)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.ReplaceSnapshot(context.Background(), sampleRoster()); err != nil {
		t.Fatalf("ReplaceSnapshot() failed: %v", err)
	}
	if err := s.Destroy(); err != nil {
		t.Fatalf("Destroy() failed: %v", err)
	}

	// Reopening starts from scratch.
	s, err = Open(path)
	if err != nil {
		t.Fatalf("Open() after Destroy failed: %v", err)
	}
	defer s.Close()
	if got := s.LastSyncTime(context.Background()); got != 0 {
		t.Errorf("LastSyncTime() after Destroy = %d, want 0", got)
	}
}
