package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/driftsync/driftsync/internal/utils"
)

const (
	syncDir     = "synced"
	metadataDir = ".driftsync"
	lockFile    = "driftsync.lock"
	stateFile   = "state.json"
)

var ErrWorkspaceLocked = errors.New("workspace locked by another process")

// Workspace is a client's on-disk layout: the replicated tree plus a
// metadata dot-directory with the lock and persisted sync state.
type Workspace struct {
	Root        string
	SyncDir     string
	MetadataDir string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", rootDir, err)
	}

	metaDir := filepath.Join(root, metadataDir)
	return &Workspace{
		Root:        root,
		SyncDir:     filepath.Join(root, syncDir),
		MetadataDir: metaDir,
		flock:       flock.New(filepath.Join(metaDir, lockFile)),
	}, nil
}

// StatePath is the persisted replication state (cursor + known paths).
func (w *Workspace) StatePath() string {
	return filepath.Join(w.MetadataDir, stateFile)
}

// Setup creates the directory layout and takes the workspace lock. Two
// processes replicating the same tree would fight over every file, so the
// lock is mandatory.
func (w *Workspace) Setup() error {
	for _, dir := range []string{w.SyncDir, w.MetadataDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root)
	return nil
}

func (w *Workspace) Lock() error {
	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	if !w.flock.Locked() {
		return nil
	}
	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}
