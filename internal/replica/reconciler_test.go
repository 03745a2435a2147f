package replica

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/fingerprint"
	"github.com/driftsync/driftsync/internal/protocol"
)

func newTestReconciler(t *testing.T) (*Reconciler, string) {
	t.Helper()
	root := t.TempDir()
	return NewReconciler(root, "node-test", NewPendingOrigin(time.Second)), root
}

func updatedEvent(seq int64, path, content, origin string) *protocol.ChangeEvent {
	return &protocol.ChangeEvent{
		Sequence:    seq,
		Path:        path,
		Kind:        protocol.KindUpdated,
		Fingerprint: fingerprint.Bytes([]byte(content)),
		Content:     []byte(content),
		Origin:      origin,
	}
}

func deletedEvent(seq int64, path, origin string) *protocol.ChangeEvent {
	return &protocol.ChangeEvent{
		Sequence: seq,
		Path:     path,
		Kind:     protocol.KindDeleted,
		Origin:   origin,
	}
}

func TestReconciler_Apply_WritesAndDeletes(t *testing.T) {
	r, root := newTestReconciler(t)

	r.Apply([]*protocol.ChangeEvent{
		updatedEvent(1, "docs/readme.md", "hello", "node-a"),
		updatedEvent(2, "docs/readme.md", "hello v2", "node-a"),
	})

	local := filepath.Join(root, "docs", "readme.md")
	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "hello v2", string(data))
	assert.EqualValues(t, 2, r.Cursor())

	r.Apply([]*protocol.ChangeEvent{deletedEvent(3, "docs/readme.md", "node-b")})
	assert.NoFileExists(t, local)
	// docs/ was left empty by the delete and pruned with it.
	assert.NoDirExists(t, filepath.Join(root, "docs"))
	assert.EqualValues(t, 3, r.Cursor())
}

func TestReconciler_Apply_SkipsEventsAtOrBelowCursor(t *testing.T) {
	r, root := newTestReconciler(t)
	r.SetCursor(5)

	r.Apply([]*protocol.ChangeEvent{
		updatedEvent(4, "old.txt", "stale", "node-a"),
		updatedEvent(5, "old.txt", "stale", "node-a"),
		updatedEvent(6, "new.txt", "fresh", "node-a"),
	})

	assert.NoFileExists(t, filepath.Join(root, "old.txt"))
	assert.FileExists(t, filepath.Join(root, "new.txt"))
	assert.EqualValues(t, 6, r.Cursor())
}

func TestReconciler_Apply_SuppressesOwnEcho(t *testing.T) {
	r, root := newTestReconciler(t)

	// The observer recorded this change as pending before pushing it, so
	// the echo must not rewrite the file (which may have changed since).
	fp := fingerprint.Bytes([]byte("local content"))
	r.pending.Add("note.txt", fp, false)

	ev := updatedEvent(1, "note.txt", "local content", "node-test")
	r.Apply([]*protocol.ChangeEvent{ev})

	assert.NoFileExists(t, filepath.Join(root, "note.txt"))
	assert.EqualValues(t, 1, r.Cursor())

	// A replayed event with the same shape is no longer pending and
	// applies normally.
	r.Apply([]*protocol.ChangeEvent{updatedEvent(2, "note.txt", "local content", "node-test")})
	assert.FileExists(t, filepath.Join(root, "note.txt"))
}

func TestReconciler_Apply_IsIdempotent(t *testing.T) {
	r, root := newTestReconciler(t)

	ev := updatedEvent(1, "a.txt", "same", "node-a")
	r.Apply([]*protocol.ChangeEvent{ev})

	// Reapplying past events is a no-op; deleting an absent file too.
	r.SetCursor(0)
	r.Apply([]*protocol.ChangeEvent{ev})
	r.Apply([]*protocol.ChangeEvent{deletedEvent(2, "missing.txt", "node-b")})

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "same", string(data))
}

func TestReconciler_ApplyDirect_DoesNotAdvanceCursor(t *testing.T) {
	r, root := newTestReconciler(t)
	r.SetCursor(7)

	r.ApplyDirect(updatedEvent(9, "direct.txt", "payload", "node-a"))

	assert.FileExists(t, filepath.Join(root, "direct.txt"))
	assert.EqualValues(t, 7, r.Cursor())

	fp, deleted, known := r.AppliedFingerprint("direct.txt")
	require.True(t, known)
	assert.False(t, deleted)
	assert.Equal(t, fingerprint.Bytes([]byte("payload")), fp)
}

func TestReconciler_AppliedFingerprint_TracksDeletes(t *testing.T) {
	r, _ := newTestReconciler(t)

	r.Apply([]*protocol.ChangeEvent{
		updatedEvent(1, "gone.txt", "soon gone", "node-a"),
		deletedEvent(2, "gone.txt", "node-a"),
	})

	_, deleted, known := r.AppliedFingerprint("gone.txt")
	require.True(t, known)
	assert.True(t, deleted)
}
