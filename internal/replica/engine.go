package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/driftsync/driftsync/internal/protocol"
	"github.com/driftsync/driftsync/internal/utils"
)

const (
	DefaultScanInterval = 2 * time.Second
	DefaultPullInterval = 3 * time.Second
	DefaultBackoff      = 3 * time.Second
	DefaultPendingTTL   = 5 * time.Second
	DefaultBatchLimit   = 500

	// How long the scan loop coalesces filesystem notifications before
	// running an early scan.
	watchDebounce = 250 * time.Millisecond
)

var ErrNoTransport = errors.New("replica: transport is required")

// Config configures a replication engine for one watched tree.
type Config struct {
	// Root of the replicated directory tree.
	Root string

	// NodeID identifies this node as the origin of its events. Used only
	// for echo suppression, never for conflict precedence.
	NodeID string

	// Transport connects the engine to the event log.
	Transport Transport

	// StatePath is the persisted state file (cursor + known paths).
	StatePath string

	ScanInterval time.Duration
	PullInterval time.Duration
	Backoff      time.Duration
	PendingTTL   time.Duration
	BatchLimit   int

	// WatchFS enables filesystem notifications to wake the scan loop
	// early. The periodic scan runs either way.
	WatchFS bool
}

// Engine runs the two replication loops for a node: the observer loop
// (disk -> log) and the reconcile loop (log -> disk). One mutex covers a
// whole scan-or-apply pass; the two directions never interleave at
// file-level granularity on the same tree.
type Engine struct {
	cfg      Config
	observer *Observer
	recon    *Reconciler
	pending  *PendingOrigin
	state    *StateFile
	watcher  *FileWatcher
	snapshot Snapshot

	mu sync.Mutex
	wg sync.WaitGroup
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Root == "" {
		return nil, errors.New("replica: root is required")
	}
	if cfg.NodeID == "" {
		return nil, errors.New("replica: node id is required")
	}
	if cfg.Transport == nil {
		return nil, ErrNoTransport
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.PullInterval <= 0 {
		cfg.PullInterval = DefaultPullInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}

	ignore := NewIgnoreList(cfg.Root)
	pending := NewPendingOrigin(cfg.PendingTTL)

	e := &Engine{
		cfg:      cfg,
		observer: NewObserver(cfg.Root, ignore),
		recon:    NewReconciler(cfg.Root, cfg.NodeID, pending),
		pending:  pending,
		snapshot: make(Snapshot),
	}
	if cfg.StatePath != "" {
		e.state = NewStateFile(cfg.StatePath)
	}
	if cfg.WatchFS {
		e.watcher = NewFileWatcher(cfg.Root)
	}
	return e, nil
}

// Start bootstraps the engine (full scan, offline deletion detection) and
// launches the scan and pull loops. It returns after the loops start; they
// stop when ctx is canceled.
func (e *Engine) Start(ctx context.Context) error {
	slog.Info("replica start", "root", e.cfg.Root, "node", e.cfg.NodeID)

	if err := utils.EnsureDir(e.cfg.Root); err != nil {
		return fmt.Errorf("ensure sync root: %w", err)
	}

	if err := e.bootstrap(ctx); err != nil {
		return err
	}

	if e.watcher != nil {
		if err := e.watcher.Start(); err != nil {
			// Degraded but functional; the periodic scan still runs.
			slog.Warn("file watcher unavailable, relying on periodic scans", "error", err)
			e.watcher = nil
		}
	}

	e.wg.Add(2)
	go e.scanLoop(ctx)
	go e.pullLoop(ctx)
	return nil
}

// Stop waits for the loops to exit and persists final state.
func (e *Engine) Stop() error {
	e.wg.Wait()
	if e.watcher != nil {
		e.watcher.Stop()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.saveState()
	slog.Info("replica stop", "root", e.cfg.Root)
	return nil
}

// Cursor returns the sequence of the last applied event.
func (e *Engine) Cursor() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recon.Cursor()
}

// ApplyRemote mirrors a freshly appended event into this node's tree
// without waiting for the next pull cycle. The cursor is untouched; the
// pull loop later observes the event as a no-op.
func (e *Engine) ApplyRemote(ev *protocol.ChangeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recon.ApplyDirect(ev)
}

// bootstrap rebuilds the snapshot from a full scan and pushes deletion
// events for paths that were present at last shutdown but are gone now:
// the user deleted them while the node was down.
func (e *Engine) bootstrap(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var persisted *State
	if e.state != nil {
		var err error
		persisted, err = e.state.Load()
		if err != nil {
			return fmt.Errorf("load sync state: %w", err)
		}
	} else {
		persisted = &State{}
	}
	e.recon.SetCursor(persisted.Cursor)

	snapshot, err := e.observer.Scan(ctx)
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}

	offlineDeleted := persisted.PathSet().Difference(snapshot.Paths())
	for path := range offlineDeleted.Iter() {
		if err := e.pushDelete(ctx, path); err != nil {
			// Pushed again by a later scan cycle once the server is back.
			slog.Warn("offline deletion push failed", "path", path, "error", err)
		}
	}

	slog.Info("replica bootstrap", "files", len(snapshot), "cursor", persisted.Cursor,
		"offline_deletes", offlineDeleted.Cardinality())
	return nil
}

func (e *Engine) scanLoop(ctx context.Context) {
	defer e.wg.Done()

	// A timer instead of a ticker so a slow pass never queues ticks.
	timer := time.NewTimer(e.cfg.ScanInterval)
	defer timer.Stop()

	var watchEvents <-chan struct{}
	if e.watcher != nil {
		watchEvents = debounceNotify(ctx, e.watcher, watchDebounce)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-watchEvents:
		case <-timer.C:
		}

		next := e.cfg.ScanInterval
		if err := e.scanOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("scan cycle failed", "error", err)
			next = e.cfg.Backoff
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)
	}
}

func (e *Engine) pullLoop(ctx context.Context) {
	defer e.wg.Done()

	timer := time.NewTimer(e.cfg.PullInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := e.cfg.PullInterval
		n, err := e.pullOnce(ctx)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			slog.Error("pull cycle failed", "error", err)
			next = e.cfg.Backoff
		case n >= e.cfg.BatchLimit:
			// A full page means more events are waiting; pull again now.
			next = time.Millisecond
		}
		timer.Reset(next)
	}
}

// scanOnce is one full observer pass: diff the live tree against the
// previous snapshot and push events for divergences.
func (e *Engine) scanOnce(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.observer.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	// New or modified files.
	for path, fp := range current {
		if e.snapshot[path] == fp {
			continue
		}
		if appliedFP, deleted, known := e.recon.AppliedFingerprint(path); known && !deleted && appliedFP == fp {
			// Written by the reconciler itself; not a local change.
			e.snapshot[path] = fp
			continue
		}
		if err := e.pushUpdate(ctx, path); err != nil {
			return err
		}
	}

	// Vanished files.
	for path := range e.snapshot {
		if _, ok := current[path]; ok {
			continue
		}
		if _, deleted, known := e.recon.AppliedFingerprint(path); known && deleted {
			// The reconciler removed it; not a local deletion.
			delete(e.snapshot, path)
			continue
		}
		if utils.FileExists(filepath.Join(e.cfg.Root, filepath.FromSlash(path))) {
			// Transient scan miss (unreadable mid-scan); keep it.
			continue
		}
		if err := e.pushDelete(ctx, path); err != nil {
			return err
		}
	}

	return nil
}

// pushUpdate reads the file, registers the pending-origin tuple and
// appends an Updated event. The snapshot entry is updated only after a
// successful append so a failed cycle retries the path.
func (e *Engine) pushUpdate(ctx context.Context, path string) error {
	local := filepath.Join(e.cfg.Root, filepath.FromSlash(path))
	content, err := os.ReadFile(local)
	if err != nil {
		// Deleted or unreadable between hash and read; next scan settles it.
		slog.Warn("observer read", "path", path, "error", err)
		return nil
	}

	ev := protocol.NewUpdated(path, content, e.cfg.NodeID)
	e.pending.Add(ev.Path, ev.Fingerprint, false)

	if _, err := e.transportAppend(ctx, ev); err != nil {
		return fmt.Errorf("push update %s: %w", path, err)
	}

	e.snapshot[path] = ev.Fingerprint
	slog.Info("observer push", "path", path, "size", humanize.IBytes(uint64(len(content))))
	return nil
}

func (e *Engine) pushDelete(ctx context.Context, path string) error {
	ev := protocol.NewDeleted(path, e.cfg.NodeID)
	e.pending.Add(ev.Path, "", true)

	if _, err := e.transportAppend(ctx, ev); err != nil {
		return fmt.Errorf("push delete %s: %w", path, err)
	}

	delete(e.snapshot, path)
	slog.Info("observer push delete", "path", path)
	return nil
}

func (e *Engine) transportAppend(ctx context.Context, ev *protocol.ChangeEvent) (int64, error) {
	return e.cfg.Transport.Append(ctx, ev)
}

// pullOnce fetches one batch of events past the cursor and applies it.
// Returns the batch size so the loop can page through a backlog.
func (e *Engine) pullOnce(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	events, err := e.cfg.Transport.EventsSince(ctx, e.recon.Cursor(), e.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("events since %d: %w", e.recon.Cursor(), err)
	}

	if len(events) > 0 {
		e.recon.Apply(events)
	}
	e.saveState()
	return len(events), nil
}

// saveState rewrites the persisted cursor and known-path set. Callers
// hold the engine mutex.
func (e *Engine) saveState() {
	if e.state == nil {
		return
	}

	paths := e.snapshot.Paths()
	for path := range e.recon.applied {
		if fp, deleted, _ := e.recon.AppliedFingerprint(path); deleted {
			paths.Remove(path)
		} else if fp != "" {
			paths.Add(path)
		}
	}

	if err := e.state.Save(e.recon.Cursor(), paths); err != nil {
		slog.Error("save sync state", "error", err)
	}
}

// debounceNotify collapses bursts of filesystem notifications into single
// wake-ups for the scan loop.
func debounceNotify(ctx context.Context, watcher *FileWatcher, window time.Duration) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events():
				if !ok {
					return
				}
			}

			timer := time.NewTimer(window)
		drain:
			for {
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case _, ok := <-watcher.Events():
					if !ok {
						timer.Stop()
						return
					}
				case <-timer.C:
					break drain
				}
			}

			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}
