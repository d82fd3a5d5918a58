package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/yatin-bhojwani/compass/internal/directory"
	"github.com/yatin-bhojwani/compass/internal/remote"
	"github.com/yatin-bhojwani/compass/internal/store"
	"github.com/yatin-bhojwani/compass/internal/ui"
	"github.com/yatin-bhojwani/compass/internal/worker"
)

// engine bundles the running worker with what initialization produced.
type engine struct {
	worker  *worker.Worker
	store   *store.Store
	options directory.Options

	// degraded is set when initialization fell back to the cached snapshot.
	degraded bool
}

func openStore() (*store.Store, error) {
	return store.Open(cfg.DBPath)
}

// startEngine opens the store, starts the worker, and runs initialization.
// The returned engine is ready for query and family-tree commands.
func startEngine(ctx context.Context) (*engine, error) {
	st, err := openStore()
	if err != nil {
		return nil, err
	}

	logger := log.New(os.Stderr, "[compass] ", log.LstdFlags)
	w := worker.New(worker.Config{
		Store:     st,
		Client:    remote.New(cfg.SearchRoot, logger),
		BatchRule: cfg.Batch.Rule(),
		Freshness: cfg.Freshness(),
		Logger:    logger,
	})
	w.Start(ctx)

	if err := w.Send(ctx, worker.Command{Kind: worker.CommandInitialize}); err != nil {
		w.Stop()
		st.Close()
		return nil, err
	}

	ev, ok := <-w.Events()
	if !ok {
		st.Close()
		return nil, fmt.Errorf("worker stopped during initialization")
	}
	if ev.Status != worker.StatusReady {
		w.Stop()
		st.Close()
		return nil, fmt.Errorf("%s", ev.Message)
	}

	eng := &engine{worker: w, store: st, degraded: ev.Degraded}
	if ev.Options != nil {
		eng.options = *ev.Options
	}
	if ev.Degraded {
		fmt.Fprintln(os.Stderr, ui.RenderMuted("Directory service unreachable; using cached snapshot"))
	}
	return eng, nil
}

func (e *engine) close() {
	e.worker.Stop()
	e.store.Close()
}

// query runs one query through the worker and returns the results.
func (e *engine) query(ctx context.Context, q directory.Query) ([]directory.StudentRecord, error) {
	if err := e.worker.Send(ctx, worker.Command{Kind: worker.CommandQuery, Query: &q}); err != nil {
		return nil, err
	}
	ev, ok := <-e.worker.Events()
	if !ok {
		return nil, fmt.Errorf("worker stopped")
	}
	if ev.Status != worker.StatusQueryResults {
		return nil, fmt.Errorf("%s", ev.Message)
	}
	return ev.Results, nil
}

// familyTree resolves the mentorship neighbourhood of a student.
func (e *engine) familyTree(ctx context.Context, student directory.StudentRecord) (*directory.FamilyTree, error) {
	if err := e.worker.Send(ctx, worker.Command{Kind: worker.CommandFamilyTree, Student: &student}); err != nil {
		return nil, err
	}
	ev, ok := <-e.worker.Events()
	if !ok {
		return nil, fmt.Errorf("worker stopped")
	}
	if ev.Status != worker.StatusFamilyTreeResults {
		return nil, fmt.Errorf("%s", ev.Message)
	}
	return ev.Tree, nil
}

// printRecords writes results in a compact aligned listing.
func printRecords(records []directory.StudentRecord) {
	if len(records) == 0 {
		fmt.Println(ui.RenderMuted("No matches"))
		return
	}
	for _, r := range records {
		line := fmt.Sprintf("%-10s %-30s %s", r.RollNo, r.Name, r.Dept)
		extras := make([]string, 0, 2)
		if r.Hall != "" {
			hall := r.Hall
			if r.RoomNo != "" {
				hall += " " + r.RoomNo
			}
			extras = append(extras, hall)
		}
		if r.Email != "" {
			extras = append(extras, r.Email)
		}
		if len(extras) > 0 {
			line += ui.RenderMuted("  (" + strings.Join(extras, ", ") + ")")
		}
		fmt.Println(line)
	}
	fmt.Println(ui.RenderMuted(fmt.Sprintf("%d match(es)", len(records))))
}
