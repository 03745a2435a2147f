package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/protocol"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestLocalStore_WriteReadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Write("docs/readme.md", []byte("hello")))

	data, err := store.Read("docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := store.Stat("docs/readme.md")
	require.NoError(t, err)
	assert.EqualValues(t, 5, info.Size())
}

func TestLocalStore_ReadMissingIsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Read("nope.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store := newTestStore(t)

	for _, p := range []string{"../escape.txt", "..", "a/../../b", ""} {
		_, err := store.Resolve(p)
		assert.ErrorIs(t, err, protocol.ErrInvalidPath, "path %q", p)
	}

	// A leading slash is tolerated and anchored to the root.
	abs, err := store.Resolve("/inside.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "inside.txt"), abs)
}

func TestLocalStore_DeletePrunesEmptyParents(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Write("a/b/c.txt", []byte("x")))
	require.NoError(t, store.Write("a/keep.txt", []byte("y")))

	require.NoError(t, store.Delete("a/b/c.txt"))
	assert.NoDirExists(t, filepath.Join(store.Root(), "a", "b"))
	// a/ still holds keep.txt and survives.
	assert.FileExists(t, filepath.Join(store.Root(), "a", "keep.txt"))

	// Deleting a missing path is not an error.
	require.NoError(t, store.Delete("a/b/c.txt"))
}

func TestLocalStore_WalkSkipsHiddenFiles(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Write("one.txt", []byte("1")))
	require.NoError(t, store.Write("sub/two.txt", []byte("2")))
	require.NoError(t, os.MkdirAll(filepath.Join(store.Root(), ".driftsync"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), ".driftsync", "events.db"), []byte("db"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), ".hidden"), []byte("h"), 0o644))

	var seen []string
	err := store.Walk(func(relPath string, modTime time.Time) error {
		seen = append(seen, relPath)
		assert.False(t, modTime.IsZero())
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one.txt", "sub/two.txt"}, seen)
}
