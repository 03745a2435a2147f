package replica

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/eventlog"
)

const (
	convergeWait = 10 * time.Second
	convergeTick = 25 * time.Millisecond
)

// startTestEngine runs an engine over a shared event log with fast loops.
// The watcher stays off so tests only depend on the periodic scan.
func startTestEngine(t *testing.T, ctx context.Context, log *eventlog.Log, root, nodeID string) *Engine {
	t.Helper()

	e, err := NewEngine(Config{
		Root:         root,
		NodeID:       nodeID,
		Transport:    log,
		StatePath:    filepath.Join(root, ".driftsync", "state.json"),
		ScanInterval: 30 * time.Millisecond,
		PullInterval: 30 * time.Millisecond,
		Backoff:      50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx))
	return e
}

func readFileString(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestEngine_TwoNodesConvergeOnUpdate(t *testing.T) {
	log := openSharedLog(t)
	rootA, rootB := t.TempDir(), t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	a := startTestEngine(t, ctx, log, rootA, "node-a")
	b := startTestEngine(t, ctx, log, rootB, "node-b")
	defer func() {
		cancel()
		a.Stop()
		b.Stop()
	}()

	require.NoError(t, os.WriteFile(filepath.Join(rootA, "hello.txt"), []byte("from a"), 0o644))

	target := filepath.Join(rootB, "hello.txt")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(target)
		return err == nil && string(data) == "from a"
	}, convergeWait, convergeTick)
}

func TestEngine_TwoNodesConvergeOnDelete(t *testing.T) {
	log := openSharedLog(t)
	rootA, rootB := t.TempDir(), t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	a := startTestEngine(t, ctx, log, rootA, "node-a")
	b := startTestEngine(t, ctx, log, rootB, "node-b")
	defer func() {
		cancel()
		a.Stop()
		b.Stop()
	}()

	src := filepath.Join(rootA, "docs", "note.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("temporary"), 0o644))

	mirrored := filepath.Join(rootB, "docs", "note.md")
	require.Eventually(t, func() bool {
		_, err := os.Stat(mirrored)
		return err == nil
	}, convergeWait, convergeTick)

	require.NoError(t, os.Remove(src))

	require.Eventually(t, func() bool {
		_, err := os.Stat(mirrored)
		return os.IsNotExist(err)
	}, convergeWait, convergeTick)
	// Empty parent directories follow the file.
	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(rootB, "docs"))
		return os.IsNotExist(err)
	}, convergeWait, convergeTick)
}

func TestEngine_LastWriterWinsAcrossNodes(t *testing.T) {
	log := openSharedLog(t)
	rootA, rootB := t.TempDir(), t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	a := startTestEngine(t, ctx, log, rootA, "node-a")
	b := startTestEngine(t, ctx, log, rootB, "node-b")
	defer func() {
		cancel()
		a.Stop()
		b.Stop()
	}()

	require.NoError(t, os.WriteFile(filepath.Join(rootA, "shared.txt"), []byte("v1"), 0o644))
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(rootB, "shared.txt"))
		return err == nil && string(data) == "v1"
	}, convergeWait, convergeTick)

	// B edits the file; the later event wins everywhere.
	require.NoError(t, os.WriteFile(filepath.Join(rootB, "shared.txt"), []byte("v2 from b"), 0o644))
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(rootA, "shared.txt"))
		return err == nil && string(data) == "v2 from b"
	}, convergeWait, convergeTick)
}

func TestEngine_OfflineDeletionPushedOnRestart(t *testing.T) {
	log := openSharedLog(t)
	rootA, rootB := t.TempDir(), t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	a := startTestEngine(t, ctx, log, rootA, "node-a")

	require.NoError(t, os.WriteFile(filepath.Join(rootA, "doomed.txt"), []byte("bye"), 0o644))
	require.Eventually(t, func() bool {
		return a.Cursor() > 0
	}, convergeWait, convergeTick)

	cancel()
	require.NoError(t, a.Stop())

	// Deleted while the node is down; the restarted node notices the
	// path in its persisted state that the scan no longer finds.
	require.NoError(t, os.Remove(filepath.Join(rootA, "doomed.txt")))

	ctx2, cancel2 := context.WithCancel(context.Background())
	a2 := startTestEngine(t, ctx2, log, rootA, "node-a")
	b := startTestEngine(t, ctx2, log, rootB, "node-b")
	defer func() {
		cancel2()
		a2.Stop()
		b.Stop()
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(rootB, "doomed.txt"))
		return os.IsNotExist(err)
	}, convergeWait, convergeTick)
}

func TestEngine_RestartDoesNotReapplyOldEvents(t *testing.T) {
	log := openSharedLog(t)
	root := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	e := startTestEngine(t, ctx, log, root, "node-a")

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("one"), 0o644))
	require.Eventually(t, func() bool {
		return e.Cursor() > 0
	}, convergeWait, convergeTick)
	cursor := e.Cursor()

	cancel()
	require.NoError(t, e.Stop())

	ctx2, cancel2 := context.WithCancel(context.Background())
	e2 := startTestEngine(t, ctx2, log, root, "node-a")
	defer func() {
		cancel2()
		e2.Stop()
	}()

	// The persisted cursor carries over; nothing is replayed or rewritten.
	assert.GreaterOrEqual(t, e2.Cursor(), cursor)
	assert.Equal(t, "one", readFileString(t, filepath.Join(root, "a.txt")))
}

func openSharedLog(t *testing.T) *eventlog.Log {
	t.Helper()
	log, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}
