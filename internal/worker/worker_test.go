package worker

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yatin-bhojwani/compass/internal/directory"
	"github.com/yatin-bhojwani/compass/internal/remote"
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

func startWorker(t *testing.T, s *store.Store, baseURL string, now func() time.Time) *Worker {
	t.Helper()
	w := New(Config{
		Store:     s,
		Client:    remote.New(baseURL, quietLogger()),
		BatchRule: directory.DefaultBatchRule(),
		Logger:    quietLogger(),
		Now:       now,
	})
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		w.Stop()
		cancel()
	})
	return w
}

func send(t *testing.T, w *Worker, cmd Command) {
	t.Helper()
	if err := w.Send(context.Background(), cmd); err != nil {
		t.Fatalf("Send(%s) failed: %v", cmd.Kind, err)
	}
}

func nextEvent(t *testing.T, w *Worker) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for worker event")
		return Event{}
	}
}

func snapshotServer(t *testing.T, roster []directory.StudentRecord) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/search/" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"profiles": roster})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func seedRoster() []directory.StudentRecord {
	return []directory.StudentRecord{
		{UserID: "u1", RollNo: "200123", Name: "Aakash Verma", Hall: "HallA", Bapu: "999999", Bachhas: "{200002}"},
		{UserID: "u2", RollNo: "200002", Name: "Priya Singh", Hall: "HallA", Bapu: "200123"},
	}
}

func TestInitialize_FullResync(t *testing.T) {
	s := testStore(t)
	srv := snapshotServer(t, seedRoster())

	w := startWorker(t, s, srv.URL, nil)
	send(t, w, Command{Kind: CommandInitialize, Seq: 7})

	ev := nextEvent(t, w)
	if ev.Status != StatusReady {
		t.Fatalf("event = %+v, want ready", ev)
	}
	if ev.Seq != 7 {
		t.Errorf("Seq = %d, want 7", ev.Seq)
	}
	if ev.Degraded {
		t.Error("successful full resync should not be degraded")
	}
	if ev.Options == nil || len(ev.Options.Hall) != 1 || ev.Options.Hall[0] != "HallA" {
		t.Errorf("Options = %+v, want hall vocabulary [HallA]", ev.Options)
	}

	// The snapshot must have been persisted.
	persisted, err := s.ReadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("ReadSnapshot() after initialize failed: %v", err)
	}
	if len(persisted) != 2 {
		t.Errorf("persisted %d records, want 2", len(persisted))
	}
}

func TestInitialize_NoDataAnywhere(t *testing.T) {
	s := testStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // remote unreachable, store empty

	w := startWorker(t, s, srv.URL, nil)
	send(t, w, Command{Kind: CommandInitialize})

	ev := nextEvent(t, w)
	if ev.Status != StatusError {
		t.Fatalf("event = %+v, want error", ev)
	}
	if !strings.Contains(ev.Message, "no data available") {
		t.Errorf("Message = %q, want a no-data diagnostic", ev.Message)
	}

	// Queries are refused until the host reinitializes successfully.
	send(t, w, Command{Kind: CommandQuery, Query: &directory.Query{Gender: "M"}})
	if ev := nextEvent(t, w); ev.Status != StatusError {
		t.Errorf("query in failed state = %+v, want error", ev)
	}
}

func TestInitialize_FallsBackToCacheWhenRemoteDown(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Fresh snapshot, so initialization takes the incremental path, whose
	// fetch then fails.
	if err := s.ReplaceSnapshot(ctx, seedRoster()); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	w := startWorker(t, s, srv.URL, nil)
	send(t, w, Command{Kind: CommandInitialize})

	ev := nextEvent(t, w)
	if ev.Status != StatusReady {
		t.Fatalf("event = %+v, want degraded ready", ev)
	}
	if !ev.Degraded {
		t.Error("cache fallback must mark the ready event degraded")
	}

	send(t, w, Command{Kind: CommandQuery, Query: &directory.Query{Hall: []string{"HallA"}}})
	results := nextEvent(t, w)
	if results.Status != StatusQueryResults || len(results.Results) != 2 {
		t.Errorf("query over cached roster = %+v, want 2 results", results)
	}
}

func TestInitialize_StaleSnapshotForcesFullResync(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := []directory.StudentRecord{{UserID: "old", RollNo: "190001", Name: "Old Record"}}
	staleTime := time.Now().Add(-60 * 24 * time.Hour)
	if err := s.ReplaceSnapshotAt(ctx, old, staleTime.UnixMilli()); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	srv := snapshotServer(t, seedRoster())
	w := startWorker(t, s, srv.URL, nil)
	send(t, w, Command{Kind: CommandInitialize})

	if ev := nextEvent(t, w); ev.Status != StatusReady {
		t.Fatalf("event = %+v, want ready", ev)
	}

	persisted, err := s.ReadSnapshot(ctx)
	if err != nil {
		t.Fatalf("ReadSnapshot() failed: %v", err)
	}
	if len(persisted) != 2 || persisted[0].UserID == "old" {
		t.Errorf("stale snapshot was not replaced: %+v", persisted)
	}
}

func TestInitialize_IncrementalSync(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.ReplaceSnapshot(ctx, seedRoster()); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	requestTime := time.Now().UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/search/changeLog" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"addProfiles":  []directory.StudentRecord{{UserID: "u3", RollNo: "240001", Name: "New Student", Hall: "HallB"}},
			"deleteUserId": []string{"u2"},
			"requestTime":  requestTime.Format(time.RFC3339),
		})
	}))
	t.Cleanup(srv.Close)

	w := startWorker(t, s, srv.URL, nil)
	send(t, w, Command{Kind: CommandInitialize})

	ev := nextEvent(t, w)
	if ev.Status != StatusReady || ev.Degraded {
		t.Fatalf("event = %+v, want clean ready", ev)
	}
	// Options must reflect the merged roster, not the old one.
	if ev.Options == nil || len(ev.Options.Hall) != 2 {
		t.Errorf("Options = %+v, want halls [HallA HallB]", ev.Options)
	}

	if got := s.LastSyncTime(ctx); got != requestTime.UnixMilli() {
		t.Errorf("LastSyncTime() = %d, want server request time %d", got, requestTime.UnixMilli())
	}
}

func TestQuery_BeforeInitialize(t *testing.T) {
	s := testStore(t)
	w := startWorker(t, s, "http://127.0.0.1:0", nil)

	send(t, w, Command{Kind: CommandQuery, Seq: 3, Query: &directory.Query{Gender: "M"}})
	ev := nextEvent(t, w)
	if ev.Status != StatusError || ev.Seq != 3 {
		t.Errorf("event = %+v, want error echoing seq 3", ev)
	}
}

func TestFamilyTree_DanglingGuardian(t *testing.T) {
	s := testStore(t)
	srv := snapshotServer(t, seedRoster())
	w := startWorker(t, s, srv.URL, nil)

	send(t, w, Command{Kind: CommandInitialize})
	if ev := nextEvent(t, w); ev.Status != StatusReady {
		t.Fatalf("initialize = %+v, want ready", ev)
	}

	// u1's bapu points at a roll that no longer exists.
	student := seedRoster()[0]
	send(t, w, Command{Kind: CommandFamilyTree, Student: &student})
	ev := nextEvent(t, w)
	if ev.Status != StatusFamilyTreeResults {
		t.Fatalf("event = %+v, want family_tree_results", ev)
	}
	if ev.Tree.Guardian != nil {
		t.Errorf("Guardian = %+v, want nil for dangling reference", ev.Tree.Guardian)
	}
	if len(ev.Tree.Dependents) != 1 || ev.Tree.Dependents[0].UserID != "u2" {
		t.Errorf("Dependents = %+v, want [u2]", ev.Tree.Dependents)
	}
}

func TestDelete_WipesStoreAndResetsState(t *testing.T) {
	s := testStore(t)
	srv := snapshotServer(t, seedRoster())
	w := startWorker(t, s, srv.URL, nil)

	send(t, w, Command{Kind: CommandInitialize})
	if ev := nextEvent(t, w); ev.Status != StatusReady {
		t.Fatalf("initialize = %+v, want ready", ev)
	}

	send(t, w, Command{Kind: CommandDelete})
	if ev := nextEvent(t, w); ev.Status != StatusDelete {
		t.Fatalf("event = %+v, want delete ack", ev)
	}

	if got := s.LastSyncTime(context.Background()); got != 0 {
		t.Errorf("LastSyncTime() after delete = %d, want 0", got)
	}

	// Back to uninitialized: queries refuse to run.
	send(t, w, Command{Kind: CommandQuery, Query: &directory.Query{Gender: "M"}})
	if ev := nextEvent(t, w); ev.Status != StatusError {
		t.Errorf("query after delete = %+v, want error", ev)
	}
}

func TestUnknownCommand_IsDiagnosticOnly(t *testing.T) {
	s := testStore(t)
	srv := snapshotServer(t, seedRoster())
	w := startWorker(t, s, srv.URL, nil)

	send(t, w, Command{Kind: CommandInitialize})
	if ev := nextEvent(t, w); ev.Status != StatusReady {
		t.Fatalf("initialize = %+v, want ready", ev)
	}

	send(t, w, Command{Kind: CommandKind("frobnicate")})
	ev := nextEvent(t, w)
	if ev.Status != StatusError || !strings.Contains(ev.Message, "unknown command") {
		t.Fatalf("event = %+v, want unknown-command diagnostic", ev)
	}

	// The state machine must be untouched.
	send(t, w, Command{Kind: CommandQuery, Query: &directory.Query{Hall: []string{"HallA"}}})
	if ev := nextEvent(t, w); ev.Status != StatusQueryResults {
		t.Errorf("query after unknown command = %+v, want results", ev)
	}
}

func TestSend_AfterStop(t *testing.T) {
	s := testStore(t)
	w := New(Config{
		Store:     s,
		Client:    remote.New("http://127.0.0.1:0", quietLogger()),
		BatchRule: directory.DefaultBatchRule(),
		Logger:    quietLogger(),
	})
	w.Start(context.Background())
	w.Stop()

	// The command buffer still has room; Send must refuse anyway.
	err := w.Send(context.Background(), Command{Kind: CommandQuery, Query: &directory.Query{Gender: "M"}})
	if err == nil {
		t.Fatal("Send() after Stop() should fail")
	}
}

func TestQuery_SeqCorrelation(t *testing.T) {
	s := testStore(t)
	srv := snapshotServer(t, seedRoster())
	w := startWorker(t, s, srv.URL, nil)

	send(t, w, Command{Kind: CommandInitialize})
	if ev := nextEvent(t, w); ev.Status != StatusReady {
		t.Fatalf("initialize = %+v, want ready", ev)
	}

	send(t, w, Command{Kind: CommandQuery, Seq: 41, Query: &directory.Query{Name: "aakash"}})
	send(t, w, Command{Kind: CommandQuery, Seq: 42, Query: &directory.Query{Name: "priya"}})

	first := nextEvent(t, w)
	second := nextEvent(t, w)
	if first.Seq != 41 || second.Seq != 42 {
		t.Errorf("seqs = %d, %d, want 41, 42", first.Seq, second.Seq)
	}
}
