// Package worker runs the directory computation actor.
//
// The worker owns the in-memory roster and serves every expensive
// operation: synchronization, reconciliation, option indexing, and query
// evaluation. Hosts talk to it exclusively through asynchronous commands
// and events, so no caller ever blocks on a network fetch or a store
// transaction. One worker per store; the design assumes no second instance
// reconciles against the same database.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/yatin-bhojwani/compass/internal/directory"
	"github.com/yatin-bhojwani/compass/internal/reconcile"
	"github.com/yatin-bhojwani/compass/internal/remote"
	"github.com/yatin-bhojwani/compass/internal/search"
	"github.com/yatin-bhojwani/compass/internal/store"
)

// CommandKind identifies a host-to-worker command.
type CommandKind string

const (
	// CommandInitialize runs the sync orchestration and loads the roster.
	CommandInitialize CommandKind = "initialize"
	// CommandQuery evaluates a directory query against the roster.
	CommandQuery CommandKind = "query"
	// CommandFamilyTree resolves a student's mentorship neighbourhood.
	CommandFamilyTree CommandKind = "get_family_tree"
	// CommandDelete wipes the persistent snapshot.
	CommandDelete CommandKind = "delete"
)

// Status identifies a worker-to-host event.
type Status string

const (
	// StatusReady reports sync completion; Options is populated.
	StatusReady Status = "ready"
	// StatusQueryResults carries the records matching a query.
	StatusQueryResults Status = "query_results"
	// StatusFamilyTreeResults carries a resolved family tree.
	StatusFamilyTreeResults Status = "family_tree_results"
	// StatusDelete acknowledges a snapshot wipe.
	StatusDelete Status = "delete"
	// StatusError carries a fatal or diagnostic failure message.
	StatusError Status = "error"
)

// Command is a host request. Seq is opaque to the worker and echoed on the
// resulting event, so hosts can pair responses with requests even when
// several commands of the same kind are in flight.
type Command struct {
	Kind CommandKind
	Seq  uint64

	// Query is set for CommandQuery.
	Query *directory.Query
	// Student is set for CommandFamilyTree.
	Student *directory.StudentRecord
}

// Event is a worker response or notification.
type Event struct {
	Status Status
	Seq    uint64

	// Options is set on StatusReady.
	Options *directory.Options
	// Results is set on StatusQueryResults.
	Results []directory.StudentRecord
	// Tree is set on StatusFamilyTreeResults.
	Tree *directory.FamilyTree
	// Message carries diagnostics for StatusError and StatusDelete.
	Message string

	// Degraded marks a ready event produced from a stale cache after the
	// remote could not be reached.
	Degraded bool
}

// state is the worker's lifecycle position.
type state int

const (
	stateUninitialized state = iota
	stateReady
	stateFailed
)

// Config assembles a worker's collaborators.
type Config struct {
	Store  *store.Store
	Client *remote.Client

	// BatchRule drives batch derivation in queries and options.
	BatchRule directory.BatchRule

	// Freshness is how old the snapshot may grow before initialization
	// performs a full resync instead of an incremental one.
	Freshness time.Duration

	// Logger for worker activity. Nil means a default stderr logger.
	Logger *log.Logger

	// Now is the clock, overridable in tests. Nil means time.Now.
	Now func() time.Time
}

// Worker is the directory computation actor.
type Worker struct {
	store      *store.Store
	client     *remote.Client
	reconciler *reconcile.Reconciler
	evaluator  *search.Evaluator
	rule       directory.BatchRule
	freshness  time.Duration
	logger     *log.Logger
	now        func() time.Time

	cmds   chan Command
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	// Actor-private state; touched only by the run loop.
	state   state
	roster  []directory.StudentRecord
	options directory.Options
}

// New creates a Worker. Start must be called before sending commands.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[worker] ", log.LstdFlags)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	freshness := cfg.Freshness
	if freshness <= 0 {
		freshness = 30 * 24 * time.Hour
	}
	return &Worker{
		store:      cfg.Store,
		client:     cfg.Client,
		reconciler: reconcile.New(cfg.Store, logger),
		evaluator:  search.NewEvaluator(cfg.BatchRule),
		rule:       cfg.BatchRule,
		freshness:  freshness,
		logger:     logger,
		now:        now,
		cmds:       make(chan Command, 16),
		events:     make(chan Event, 16),
		done:       make(chan struct{}),
	}
}

// Start launches the actor loop. Commands are processed strictly in send
// order until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop shuts the actor down and waits for the loop to exit. The events
// channel is closed once no further event can be produced.
func (w *Worker) Stop() {
	close(w.done)
	w.wg.Wait()
	close(w.events)
}

// Send enqueues a command. It blocks only when the command buffer is full,
// and fails once ctx is cancelled or the worker stopped.
func (w *Worker) Send(ctx context.Context, cmd Command) error {
	// Checked first: with buffer room the combined select below could pick
	// the enqueue case even after Stop.
	select {
	case <-w.done:
		return errors.New("worker stopped")
	default:
	}
	select {
	case w.cmds <- cmd:
		return nil
	case <-w.done:
		return errors.New("worker stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the event stream. Closed by Stop.
func (w *Worker) Events() <-chan Event {
	return w.events
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case cmd := <-w.cmds:
			w.dispatch(ctx, cmd)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CommandInitialize:
		w.handleInitialize(ctx, cmd)
	case CommandQuery:
		w.handleQuery(cmd)
	case CommandFamilyTree:
		w.handleFamilyTree(cmd)
	case CommandDelete:
		w.handleDelete(ctx, cmd)
	default:
		// Diagnostic only; the state machine is untouched.
		w.emit(Event{
			Status:  StatusError,
			Seq:     cmd.Seq,
			Message: fmt.Sprintf("worker received an unknown command: %s", cmd.Kind),
		})
	}
}

// handleInitialize runs the synchronization orchestration: full resync when
// the snapshot is absent or stale, incremental changelog sync otherwise,
// falling back to the cached snapshot when the remote is unreachable. Only
// when neither the network nor the cache yields a roster does the worker
// enter the failed state.
func (w *Worker) handleInitialize(ctx context.Context, cmd Command) {
	lastSync := w.store.LastSyncTime(ctx)
	stale := lastSync == 0 || w.now().Sub(time.UnixMilli(lastSync)) > w.freshness

	var (
		roster   []directory.StudentRecord
		degraded bool
	)

	if stale {
		roster, degraded = w.fullResync(ctx)
	} else {
		roster, degraded = w.incrementalSync(ctx, lastSync)
	}

	if roster == nil {
		w.state = stateFailed
		w.emit(Event{
			Status:  StatusError,
			Seq:     cmd.Seq,
			Message: "no data available: could not find directory data locally or fetch it",
		})
		return
	}

	w.roster = roster
	w.options = search.BuildOptions(w.rule, roster)
	w.state = stateReady
	opts := w.options
	w.emit(Event{Status: StatusReady, Seq: cmd.Seq, Options: &opts, Degraded: degraded})
}

// fullResync fetches the complete roster, persisting it on success. On
// fetch failure it falls back to whatever snapshot exists locally. A nil
// roster means neither source had data.
func (w *Worker) fullResync(ctx context.Context) (roster []directory.StudentRecord, degraded bool) {
	fetched, err := w.client.FetchFullSnapshot(ctx)
	if err == nil {
		if serr := w.store.ReplaceSnapshot(ctx, fetched); serr != nil {
			// The roster is still usable this session; only persistence is
			// degraded.
			w.logger.Printf("Failed to persist snapshot: %v", serr)
			return fetched, true
		}
		return fetched, false
	}

	w.logger.Printf("Full resync failed, falling back to cache: %v", err)
	cached, cerr := w.store.ReadSnapshot(ctx)
	if cerr != nil {
		w.logger.Printf("No cached snapshot either: %v", cerr)
		return nil, true
	}
	return cached, true
}

// incrementalSync fetches and reconciles the changelog since lastSync,
// falling back to the cached snapshot on any failure.
func (w *Worker) incrementalSync(ctx context.Context, lastSync int64) (roster []directory.StudentRecord, degraded bool) {
	delta, err := w.client.FetchChangelog(ctx, lastSync)
	if err == nil {
		merged, rerr := w.reconciler.Apply(ctx, delta)
		if rerr == nil {
			return merged, false
		}
		w.logger.Printf("Reconciliation failed, falling back to cache: %v", rerr)
	} else {
		w.logger.Printf("Changelog fetch failed, falling back to cache: %v", err)
	}

	cached, cerr := w.store.ReadSnapshot(ctx)
	if cerr != nil {
		w.logger.Printf("No cached snapshot either: %v", cerr)
		return nil, true
	}
	return cached, true
}

func (w *Worker) handleQuery(cmd Command) {
	if w.state != stateReady {
		w.emit(Event{Status: StatusError, Seq: cmd.Seq, Message: "worker is not ready; initialize first"})
		return
	}
	var q directory.Query
	if cmd.Query != nil {
		q = *cmd.Query
	}
	results := w.evaluator.Evaluate(q, w.roster)
	w.emit(Event{Status: StatusQueryResults, Seq: cmd.Seq, Results: results})
}

func (w *Worker) handleFamilyTree(cmd Command) {
	if w.state != stateReady {
		w.emit(Event{Status: StatusError, Seq: cmd.Seq, Message: "worker is not ready; initialize first"})
		return
	}
	if cmd.Student == nil {
		w.emit(Event{Status: StatusError, Seq: cmd.Seq, Message: "get_family_tree requires a student payload"})
		return
	}
	tree := directory.ResolveFamilyTree(*cmd.Student, w.roster)
	w.emit(Event{Status: StatusFamilyTreeResults, Seq: cmd.Seq, Tree: &tree})
}

// handleDelete wipes the persistent snapshot and returns the worker to the
// uninitialized state. The acknowledgment is informational; hosts do not
// surface it to the end user.
func (w *Worker) handleDelete(ctx context.Context, cmd Command) {
	if err := w.store.DeleteAll(ctx); err != nil {
		w.emit(Event{Status: StatusError, Seq: cmd.Seq, Message: fmt.Sprintf("failed to delete local data: %v", err)})
		return
	}
	w.roster = nil
	w.options = directory.Options{}
	w.state = stateUninitialized
	w.emit(Event{Status: StatusDelete, Seq: cmd.Seq, Message: "successfully deleted local data"})
}

// emit delivers an event without ever wedging the actor: if the host has
// stopped draining, the event is dropped with a log line rather than
// blocking the loop forever.
func (w *Worker) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.done:
	default:
		w.logger.Printf("Dropping %s event: host is not draining events", ev.Status)
	}
}
