package workspace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspace_SetupCreatesLayout(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(root)
	require.NoError(t, err)

	require.NoError(t, ws.Setup())
	defer ws.Unlock()

	assert.DirExists(t, ws.SyncDir)
	assert.DirExists(t, ws.MetadataDir)
	assert.Equal(t, filepath.Join(root, "synced"), ws.SyncDir)
	assert.Equal(t, filepath.Join(ws.MetadataDir, "state.json"), ws.StatePath())
}

func TestWorkspace_SecondInstanceIsLockedOut(t *testing.T) {
	root := t.TempDir()

	first, err := NewWorkspace(root)
	require.NoError(t, err)
	require.NoError(t, first.Setup())
	defer first.Unlock()

	second, err := NewWorkspace(root)
	require.NoError(t, err)
	assert.ErrorIs(t, second.Setup(), ErrWorkspaceLocked)
}

func TestWorkspace_UnlockReleasesTheLock(t *testing.T) {
	root := t.TempDir()

	first, err := NewWorkspace(root)
	require.NoError(t, err)
	require.NoError(t, first.Setup())
	require.NoError(t, first.Unlock())

	second, err := NewWorkspace(root)
	require.NoError(t, err)
	require.NoError(t, second.Setup())
	assert.NoError(t, second.Unlock())
}

func TestWorkspace_UnlockWithoutLockIsNoOp(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, ws.Unlock())
}
