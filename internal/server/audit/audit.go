// Package audit records metadata changes the engine makes on behalf of users
// or in reaction to provider-side edits.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/logging"
)

// Entry is one audit record. Fields holds the changed values; it must never
// carry tokens or provider URLs.
type Entry struct {
	Time     time.Time
	UserID   string
	Action   string
	Provider string
	FileID   string
	Fields   map[string]any
}

const (
	ActionUpload        = "file.upload"
	ActionUpdate        = "file.update"
	ActionUpdateLWW     = "file.update.overwrite"
	ActionDelete        = "file.delete"
	ActionRestore       = "file.restore"
	ActionPurge         = "file.purge"
	ActionRemoteDelete  = "sync.remote_delete"
	ActionRemoteRename  = "sync.remote_rename"
	ActionRemoteMove    = "sync.remote_move"
	ActionRemoteRestore = "sync.remote_restore"
	ActionConflict      = "sync.conflict"
)

// Sink receives audit entries. Implementations must not block for long.
type Sink interface {
	Record(ctx context.Context, e Entry)
}

// LogSink writes entries as structured log records tagged audit=true.
type LogSink struct {
	log logging.Logger
}

func NewLogSink(log logging.Logger) *LogSink {
	return &LogSink{log: log.With("audit", true)}
}

func (s *LogSink) Record(ctx context.Context, e Entry) {
	args := []any{"action", e.Action, "user_id", e.UserID, "provider", e.Provider}
	if e.FileID != "" {
		args = append(args, "file_id", e.FileID)
	}
	if len(e.Fields) > 0 {
		args = append(args, "fields", e.Fields)
	}
	s.log.Info(ctx, "audit", args...)
}

// Recorder keeps entries in memory; tests use it to assert on the trail.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Record(ctx context.Context, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Actions lists the recorded actions in order.
func (r *Recorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}
