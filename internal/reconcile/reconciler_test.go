package reconcile

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/yatin-bhojwani/compass/internal/directory"
	"github.com/yatin-bhojwani/compass/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "directory.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func rec(id, roll, name string) directory.StudentRecord {
	return directory.StudentRecord{UserID: id, RollNo: roll, Name: name}
}

func rolls(roster []directory.StudentRecord) []string {
	out := make([]string, len(roster))
	for i, r := range roster {
		out[i] = r.RollNo
	}
	sort.Strings(out)
	return out
}

func TestApply_AddUpdateDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	initial := []directory.StudentRecord{
		rec("u1", "200001", "One"),
		rec("u2", "200002", "Two"),
	}
	if err := s.ReplaceSnapshot(ctx, initial); err != nil {
		t.Fatalf("seed snapshot failed: %v", err)
	}

	requestTime := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	delta := &directory.ChangeLog{
		AddProfiles: []directory.StudentRecord{
			rec("u1", "200001", "One Renamed"), // update in place
			rec("u3", "200003", "Three"),       // append
		},
		DeleteUserID: []string{"u2"},
		RequestTime:  requestTime,
	}

	merged, err := New(s, quietLogger()).Apply(ctx, delta)
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	if got, want := rolls(merged), []string{"200001", "200003"}; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("merged rolls = %v, want %v", got, want)
	}
	for _, r := range merged {
		if r.UserID == "u1" && r.Name != "One Renamed" {
			t.Errorf("u1 not updated in place: %+v", r)
		}
	}

	// The returned roster must match what persisted, and the sync time must
	// be the server-reported request time.
	persisted, err := s.ReadSnapshot(ctx)
	if err != nil {
		t.Fatalf("ReadSnapshot() failed: %v", err)
	}
	if len(persisted) != len(merged) {
		t.Errorf("persisted %d records, returned %d", len(persisted), len(merged))
	}
	if got := s.LastSyncTime(ctx); got != requestTime.UnixMilli() {
		t.Errorf("LastSyncTime() = %d, want %d", got, requestTime.UnixMilli())
	}
}

func TestApply_EmptyStoreStartsFromNothing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	delta := &directory.ChangeLog{
		AddProfiles: []directory.StudentRecord{rec("u1", "200001", "One")},
		RequestTime: time.Now().UTC(),
	}
	merged, err := New(s, quietLogger()).Apply(ctx, delta)
	if err != nil {
		t.Fatalf("Apply() on empty store failed: %v", err)
	}
	if len(merged) != 1 || merged[0].UserID != "u1" {
		t.Errorf("merged = %+v, want single u1", merged)
	}
}

func TestApply_DeleteWinsWithinOneDelta(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	delta := &directory.ChangeLog{
		AddProfiles:  []directory.StudentRecord{rec("u1", "200001", "Ghost")},
		DeleteUserID: []string{"u1"},
		RequestTime:  time.Now().UTC(),
	}
	merged, err := New(s, quietLogger()).Apply(ctx, delta)
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if len(merged) != 0 {
		t.Errorf("a UserID in both lists must end up deleted, got %+v", merged)
	}
}

func TestMerge_SequentialEqualsNetDelta(t *testing.T) {
	base := []directory.StudentRecord{
		rec("u1", "200001", "One"),
		rec("u2", "200002", "Two"),
	}

	d1 := &directory.ChangeLog{
		AddProfiles:  []directory.StudentRecord{rec("u3", "200003", "Three")},
		DeleteUserID: []string{"u1"},
	}
	d2 := &directory.ChangeLog{
		AddProfiles:  []directory.StudentRecord{rec("u2", "200002", "Two v2"), rec("u4", "200004", "Four")},
		DeleteUserID: []string{"u3"},
	}

	sequential := Merge(Merge(base, d1), d2)

	net := &directory.ChangeLog{
		AddProfiles:  []directory.StudentRecord{rec("u2", "200002", "Two v2"), rec("u4", "200004", "Four")},
		DeleteUserID: []string{"u1", "u3"},
	}
	direct := Merge(base, net)

	if got, want := rolls(sequential), rolls(direct); len(got) != len(want) {
		t.Fatalf("sequential = %v, net = %v", got, want)
	} else {
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("sequential = %v, net = %v", got, want)
			}
		}
	}
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	base := []directory.StudentRecord{rec("u1", "200001", "One")}
	delta := &directory.ChangeLog{DeleteUserID: []string{"u1"}}

	_ = Merge(base, delta)
	if len(base) != 1 || base[0].Name != "One" {
		t.Errorf("Merge mutated its input roster: %+v", base)
	}
}
