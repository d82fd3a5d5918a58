// Package reconcile merges remote changelog deltas into the local snapshot.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/yatin-bhojwani/compass/internal/directory"
	"github.com/yatin-bhojwani/compass/internal/store"
)

// ErrReconciliationFailed reports that a delta could not be applied to the
// local store. The caller must keep using whatever roster it already has in
// memory.
var ErrReconciliationFailed = errors.New("reconciliation failed")

// Reconciler applies changelog deltas to the persistent store.
type Reconciler struct {
	store  *store.Store
	logger *log.Logger
}

// New creates a Reconciler over the given store.
//
// If logger is nil, a default logger writing to stderr is used.
func New(st *store.Store, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &Reconciler{store: st, logger: logger}
}

// Apply merges a changelog delta into the stored snapshot and returns the
// merged roster for immediate use. Callers must use the returned roster
// rather than re-reading the store; the return value closes the
// read-after-write race.
//
// Merge order within one delta: added/updated profiles are applied first
// (replace-in-place by UserID, else append), deletions second. A UserID
// appearing in both lists therefore ends up deleted.
//
// The merged roster and the delta's server-reported request time are
// persisted as a single atomic write.
func (r *Reconciler) Apply(ctx context.Context, delta *directory.ChangeLog) ([]directory.StudentRecord, error) {
	current, err := r.store.ReadSnapshot(ctx)
	if errors.Is(err, store.ErrNoLocalData) {
		current = nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReconciliationFailed, err)
	}

	merged := Merge(current, delta)

	if err := r.store.ReplaceSnapshotAt(ctx, merged, delta.RequestTime.UnixMilli()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReconciliationFailed, err)
	}

	r.logger.Printf("Applied changelog: %d additions, %d deletions, roster now %d",
		len(delta.AddProfiles), len(delta.DeleteUserID), len(merged))
	return merged, nil
}

// Merge computes the pure merge of a delta into a roster, without touching
// any store. Exposed so the sync daemon and tests can reason about deltas
// independently of persistence.
func Merge(current []directory.StudentRecord, delta *directory.ChangeLog) []directory.StudentRecord {
	merged := make([]directory.StudentRecord, len(current))
	copy(merged, current)

	for _, added := range delta.AddProfiles {
		replaced := false
		for i := range merged {
			if merged[i].UserID == added.UserID {
				merged[i] = added
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, added)
		}
	}

	if len(delta.DeleteUserID) == 0 {
		return merged
	}
	deleted := make(map[string]bool, len(delta.DeleteUserID))
	for _, id := range delta.DeleteUserID {
		deleted[id] = true
	}
	kept := merged[:0]
	for _, st := range merged {
		if !deleted[st.UserID] {
			kept = append(kept, st)
		}
	}
	return kept
}
