// Package dashboard: Handler bridges daemon events to broadcast messages.
package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/yatin-bhojwani/compass/internal/directory"
)

// Handler receives daemon notifications, keeps running statistics, and
// formats both as dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger
	rule   directory.BatchRule

	// stats is read by the HTTP stats endpoint and written by the daemon's
	// goroutines.
	statsMu sync.Mutex
	stats   StatsData
}

// NewHandler creates an event handler connected to a dashboard server.
func NewHandler(server *Server, rule directory.BatchRule, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{
		server: server,
		logger: logger,
		rule:   rule,
		stats:  StatsData{ByBatch: make(map[string]int)},
	}
	server.SetStatsProvider(h.Stats)
	return h
}

// OnRefresh handles a completed changelog refresh.
func (h *Handler) OnRefresh(added, deleted int, roster []directory.StudentRecord, duration time.Duration) {
	h.logger.Printf("Refresh complete: +%d -%d, roster %d, took %v", added, deleted, len(roster), duration)

	h.statsMu.Lock()
	h.stats.RefreshCount++
	h.recount(roster)
	h.statsMu.Unlock()

	data, err := json.Marshal(RefreshData{
		Added:    added,
		Deleted:  deleted,
		Roster:   len(roster),
		Duration: duration,
	})
	if err != nil {
		h.logger.Printf("Failed to marshal refresh data: %v", err)
		return
	}

	h.server.Broadcast(Message{Type: MessageTypeRefresh, Timestamp: time.Now(), Data: data})
	h.broadcastStats()
}

// OnImport handles a spool file import.
func (h *Handler) OnImport(file string, roster []directory.StudentRecord) {
	h.logger.Printf("Imported %s: %d records", file, len(roster))

	h.statsMu.Lock()
	h.stats.ImportCount++
	h.recount(roster)
	h.statsMu.Unlock()

	data, err := json.Marshal(ImportData{File: file, Records: len(roster)})
	if err != nil {
		h.logger.Printf("Failed to marshal import data: %v", err)
		return
	}

	h.server.Broadcast(Message{Type: MessageTypeImport, Timestamp: time.Now(), Data: data})
	h.broadcastStats()
}

// OnError handles a refresh or import failure.
func (h *Handler) OnError(stage string, err error) {
	h.logger.Printf("Daemon %s failed: %v", stage, err)

	data, merr := json.Marshal(ErrorData{Stage: stage, Message: err.Error()})
	if merr != nil {
		h.logger.Printf("Failed to marshal error data: %v", merr)
		return
	}

	h.server.Broadcast(Message{Type: MessageTypeError, Timestamp: time.Now(), Data: data})
}

// recount rebuilds the per-batch histogram from a full roster. Callers hold
// statsMu.
func (h *Handler) recount(roster []directory.StudentRecord) {
	h.stats.Roster = len(roster)
	h.stats.LastSync = time.Now()
	h.stats.ByBatch = make(map[string]int)
	for i := range roster {
		h.stats.ByBatch[h.rule.Label(roster[i].RollNo)]++
	}
}

func (h *Handler) broadcastStats() {
	data, err := json.Marshal(h.Stats())
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data})
}

// Stats returns a copy of the current statistics.
func (h *Handler) Stats() StatsData {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()

	stats := h.stats
	stats.ByBatch = make(map[string]int, len(h.stats.ByBatch))
	for k, v := range h.stats.ByBatch {
		stats.ByBatch[k] = v
	}
	return stats
}
