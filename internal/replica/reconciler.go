package replica

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/driftsync/driftsync/internal/protocol"
	"github.com/driftsync/driftsync/internal/utils"
)

// appliedDeleted marks a path whose last applied event was a deletion.
// The NUL prefix keeps it out of the fingerprint value space.
const appliedDeleted = "\x00deleted"

// Reconciler applies events from the log to the local tree exactly once
// in effect: echoes of self-originated changes are swallowed, repeated
// events are no-ops, and events are never applied out of sequence order.
type Reconciler struct {
	root    string
	selfID  string
	pending *PendingOrigin
	applied map[string]string // path -> fingerprint | appliedDeleted
	cursor  int64
}

func NewReconciler(root, selfID string, pending *PendingOrigin) *Reconciler {
	return &Reconciler{
		root:    root,
		selfID:  selfID,
		pending: pending,
		applied: make(map[string]string),
	}
}

// Cursor is the sequence of the last event fully processed.
func (r *Reconciler) Cursor() int64 {
	return r.cursor
}

// SetCursor primes the cursor from persisted state at startup.
func (r *Reconciler) SetCursor(seq int64) {
	r.cursor = seq
}

// AppliedFingerprint returns the fingerprint last applied for path, with
// deleted=true when the last applied event was a deletion.
func (r *Reconciler) AppliedFingerprint(path string) (fp string, deleted bool, known bool) {
	v, ok := r.applied[path]
	if !ok {
		return "", false, false
	}
	if v == appliedDeleted {
		return "", true, true
	}
	return v, false, true
}

// Apply processes a batch of events in ascending sequence order. An event
// whose sequence is at or below the cursor is ignored, one past it always
// advances the cursor, even when its disk write fails: a poisoned single
// file must not stall replication of the rest of the tree.
func (r *Reconciler) Apply(events []*protocol.ChangeEvent) {
	for _, ev := range events {
		if ev.Sequence <= r.cursor {
			continue
		}
		r.applyOne(ev)
		r.cursor = ev.Sequence
	}
}

// ApplyDirect applies a single freshly appended event without touching
// the cursor. The server uses this to mirror client events into its
// storage tree as they arrive; the pull loop later recognizes them as
// no-ops and advances the cursor in order.
func (r *Reconciler) ApplyDirect(ev *protocol.ChangeEvent) {
	r.applyOne(ev)
}

func (r *Reconciler) applyOne(ev *protocol.ChangeEvent) {
	if ev.Origin == r.selfID && r.pending.TakeMatch(ev.Path, ev.Fingerprint, ev.Deleted()) {
		// Echo of a locally originated change already on disk.
		slog.Debug("reconcile echo", "path", ev.Path, "seq", ev.Sequence)
		return
	}

	if ev.Deleted() {
		r.applyDelete(ev)
		return
	}
	r.applyUpdate(ev)
}

func (r *Reconciler) applyDelete(ev *protocol.ChangeEvent) {
	local := filepath.Join(r.root, filepath.FromSlash(ev.Path))
	if utils.FileExists(local) {
		if err := os.Remove(local); err != nil {
			slog.Error("reconcile delete", "path", ev.Path, "seq", ev.Sequence, "error", err)
			return
		}
		utils.PruneEmptyDirs(r.root, local)
		slog.Info("reconcile delete", "path", ev.Path, "seq", ev.Sequence, "origin", ev.Origin)
	}
	r.applied[ev.Path] = appliedDeleted
}

func (r *Reconciler) applyUpdate(ev *protocol.ChangeEvent) {
	if r.applied[ev.Path] == ev.Fingerprint {
		// Disk already matches; skip the write.
		slog.Debug("reconcile noop", "path", ev.Path, "seq", ev.Sequence)
		return
	}

	local := filepath.Join(r.root, filepath.FromSlash(ev.Path))
	if err := utils.WriteFileAtomic(local, ev.Content, 0o644); err != nil {
		// Logged and skipped; the path stays unapplied but the cursor
		// still advances past this event.
		slog.Error("reconcile write", "path", ev.Path, "seq", ev.Sequence, "error", err)
		return
	}

	r.applied[ev.Path] = ev.Fingerprint
	slog.Info("reconcile write", "path", ev.Path, "seq", ev.Sequence,
		"origin", ev.Origin, "size", humanize.IBytes(uint64(len(ev.Content))))
}
