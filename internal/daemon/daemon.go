// Package daemon provides the long-running refresh daemon that keeps the
// local directory snapshot current.
//
// The daemon:
// 1. Polls the remote changelog endpoint on a fixed interval
// 2. Watches an optional spool directory for roster dump files to import
// 3. Reports activity to an optional notifier (the WebSocket dashboard)
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yatin-bhojwani/compass/internal/directory"
	"github.com/yatin-bhojwani/compass/internal/reconcile"
	"github.com/yatin-bhojwani/compass/internal/remote"
	"github.com/yatin-bhojwani/compass/internal/store"
)

// Notifier receives daemon activity reports. All methods are called from the
// daemon's goroutines and must not block.
type Notifier interface {
	OnRefresh(added, deleted int, roster []directory.StudentRecord, duration time.Duration)
	OnImport(file string, roster []directory.StudentRecord)
	OnError(stage string, err error)
}

// Config holds configuration for the daemon.
type Config struct {
	// RefreshInterval is how often the changelog endpoint is polled.
	RefreshInterval time.Duration

	// DebounceInterval is how long a spool file must sit quiet before it is
	// imported. This batches the write bursts dump tools produce.
	DebounceInterval time.Duration

	// SpoolDir, when non-empty, is watched for *.json roster dumps.
	SpoolDir string

	// Notifier receives activity reports; nil disables reporting.
	Notifier Notifier

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults. The spool watcher stays disabled
// until SpoolDir is set.
func DefaultConfig() *Config {
	return &Config{
		RefreshInterval:  15 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon keeps the persistent snapshot synchronized with the remote service
// and with operator-provided dump files.
type Daemon struct {
	store      *store.Store
	client     *remote.Client
	reconciler *reconcile.Reconciler
	config     *Config

	watcher       *fsnotify.Watcher
	importQueue   map[string]time.Time // spool file path -> last event time
	importQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon over the given store and remote client.
func New(st *store.Store, client *remote.Client, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = 15 * time.Minute
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:       st,
		client:      client,
		reconciler:  reconcile.New(st, config.Logger),
		config:      config,
		importQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Run one refresh immediately
// 2. Watch the spool directory, when configured
// 3. Poll the changelog endpoint on the refresh interval
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.RefreshOnce(ctx); err != nil {
		// Startup with an unreachable remote is normal for an offline-first
		// tool; keep polling rather than dying.
		d.config.Logger.Printf("Initial refresh failed: %v", err)
		d.notifyError("refresh", err)
	}

	if d.config.SpoolDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create spool watcher: %w", err)
		}
		if err := watcher.Add(d.config.SpoolDir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch spool directory: %w", err)
		}
		d.watcher = watcher
		d.config.Logger.Printf("Watching spool: %s", d.config.SpoolDir)

		d.wg.Add(2)
		go d.watchSpoolEvents()
		go d.processImportQueue()
	}

	d.wg.Add(1)
	go d.refreshLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing spool watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// RefreshOnce performs a single synchronization pass: a full snapshot fetch
// when no local data exists, an incremental changelog merge otherwise.
func (d *Daemon) RefreshOnce(ctx context.Context) error {
	start := time.Now()
	lastSync := d.store.LastSyncTime(ctx)

	if lastSync == 0 {
		roster, err := d.client.FetchFullSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("full refresh failed: %w", err)
		}
		if err := d.store.ReplaceSnapshot(ctx, roster); err != nil {
			return fmt.Errorf("failed to persist snapshot: %w", err)
		}
		d.config.Logger.Printf("Full refresh: %d records", len(roster))
		d.notifyRefresh(len(roster), 0, roster, time.Since(start))
		return nil
	}

	delta, err := d.client.FetchChangelog(ctx, lastSync)
	if err != nil {
		return fmt.Errorf("changelog fetch failed: %w", err)
	}
	merged, err := d.reconciler.Apply(ctx, delta)
	if err != nil {
		return err
	}
	d.notifyRefresh(len(delta.AddProfiles), len(delta.DeleteUserID), merged, time.Since(start))
	return nil
}

// refreshLoop polls the changelog endpoint on the configured interval.
func (d *Daemon) refreshLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if err := d.RefreshOnce(d.ctx); err != nil {
				d.config.Logger.Printf("Refresh failed: %v", err)
				d.notifyError("refresh", err)
			}
		}
	}
}

// watchSpoolEvents monitors filesystem events and queues dump files.
func (d *Daemon) watchSpoolEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			d.config.Logger.Printf("Spool event: %s %s", event.Op, event.Name)
			d.queueImport(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Spool watcher error: %v", err)
		}
	}
}

// queueImport records a dump file with its event time for debouncing.
func (d *Daemon) queueImport(path string) {
	d.importQueueMu.Lock()
	defer d.importQueueMu.Unlock()

	d.importQueue[path] = time.Now()
}

// processImportQueue imports dump files once they have been quiet for the
// debounce interval.
func (d *Daemon) processImportQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingImports()
		}
	}
}

func (d *Daemon) processPendingImports() {
	d.importQueueMu.Lock()
	defer d.importQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.importQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		delete(d.importQueue, path)

		if err := d.ImportDump(d.ctx, path); err != nil {
			d.config.Logger.Printf("Import of %s failed: %v", path, err)
			d.notifyError("import", err)
		}
	}
}

// ImportDump replaces the snapshot with the contents of a roster dump file.
// The spool file is removed after a successful import so it is not replayed
// on the next daemon start.
func (d *Daemon) ImportDump(ctx context.Context, path string) error {
	roster, err := ReadRosterDump(path)
	if err != nil {
		return err
	}
	if err := d.store.ReplaceSnapshot(ctx, roster); err != nil {
		return fmt.Errorf("failed to persist imported roster: %w", err)
	}

	d.config.Logger.Printf("Imported %s: %d records", path, len(roster))
	if err := os.Remove(path); err != nil {
		d.config.Logger.Printf("Could not remove spool file %s: %v", path, err)
	}

	d.notifyImport(path, roster)
	return nil
}

func (d *Daemon) notifyRefresh(added, deleted int, roster []directory.StudentRecord, duration time.Duration) {
	if d.config.Notifier != nil {
		d.config.Notifier.OnRefresh(added, deleted, roster, duration)
	}
}

func (d *Daemon) notifyImport(file string, roster []directory.StudentRecord) {
	if d.config.Notifier != nil {
		d.config.Notifier.OnImport(file, roster)
	}
}

func (d *Daemon) notifyError(stage string, err error) {
	if d.config.Notifier != nil {
		d.config.Notifier.OnError(stage, err)
	}
}
