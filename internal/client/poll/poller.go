// Package poll implements the client side of the polling protocol: the
// full-index fetch, whole-file transfers, and the last-seen-fingerprint
// state that turns index diffs into uploads, downloads and deletes.
package poll

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

	"github.com/driftsync/driftsync/internal/fingerprint"
	"github.com/driftsync/driftsync/internal/replica"
	"github.com/driftsync/driftsync/internal/sdk"
	"github.com/driftsync/driftsync/internal/utils"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultBackoff  = 10 * time.Second
)

type Config struct {
	// Root of the replicated directory tree.
	Root string

	// StatePath persists the last-synced server fingerprints.
	StatePath string

	API *sdk.IndexAPI

	Interval time.Duration
	Backoff  time.Duration
}

// Poller drives one replicated tree against the server index. Each pass
// pushes local deletions and edits first, then pulls remote changes, so a
// locally modified file is never clobbered by a stale index entry.
type Poller struct {
	cfg      Config
	observer *replica.Observer
	state    syncState

	mu sync.Mutex
}

func NewPoller(cfg Config) (*Poller, error) {
	if cfg.Root == "" {
		return nil, errors.New("poll: root is required")
	}
	if cfg.API == nil {
		return nil, errors.New("poll: index api is required")
	}
	if cfg.StatePath == "" {
		return nil, errors.New("poll: state path is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}

	return &Poller{
		cfg:      cfg,
		observer: replica.NewObserver(cfg.Root, replica.NewIgnoreList(cfg.Root)),
	}, nil
}

func (p *Poller) bootstrap() error {
	if err := utils.EnsureDir(p.cfg.Root); err != nil {
		return fmt.Errorf("poll: prepare root: %w", err)
	}

	st, err := loadState(p.cfg.StatePath)
	if err != nil {
		return fmt.Errorf("poll: load state: %w", err)
	}
	p.state = st
	return nil
}

// Run polls until ctx is cancelled. Failed passes are retried after the
// backoff interval; the state file is only rewritten after a full pass.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.bootstrap(); err != nil {
		return err
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		next := p.cfg.Interval
		if err := p.syncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("poll pass failed", "error", err)
			next = p.cfg.Backoff
		}
		timer.Reset(next)
	}
}

func (p *Poller) syncOnce(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	local, err := p.observer.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	remote, err := p.cfg.API.Get(ctx)
	if err != nil {
		return err
	}

	deleted := make(map[string]bool)
	uploaded := make(map[string]bool)

	// Local deletions first. A path we knew but no longer have on disk
	// was removed while this client was running or stopped.
	for path := range p.state {
		if _, ok := local[path]; ok {
			continue
		}
		if err := p.cfg.API.Delete(ctx, path); err != nil {
			return err
		}
		delete(p.state, path)
		deleted[path] = true
		slog.Info("poll delete", "path", path)
	}

	// Local additions and edits.
	for path := range local {
		base := p.state[path]
		if base == local[path] {
			continue
		}
		if err := p.upload(ctx, path, base, uploaded); err != nil {
			return err
		}
	}

	// Remote changes. Skip anything this pass already pushed; the index
	// snapshot predates those uploads.
	for path, entry := range remote {
		if deleted[path] || uploaded[path] {
			continue
		}
		if entry.Fingerprint == p.state[path] {
			continue
		}
		if entry.Fingerprint == local[path] {
			// Disk already matches, only the state file was behind.
			p.state[path] = entry.Fingerprint
			continue
		}
		if err := p.download(ctx, path); err != nil {
			return err
		}
	}

	// Remote deletions: paths we synced before that the index no longer
	// lists. Local edits were re-uploaded above, so whatever is left is
	// unchanged and safe to remove.
	for path := range p.state {
		if _, ok := remote[path]; ok {
			continue
		}
		if uploaded[path] {
			continue
		}
		abs := filepath.Join(p.cfg.Root, filepath.FromSlash(path))
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		utils.PruneEmptyDirs(p.cfg.Root, abs)
		delete(p.state, path)
		slog.Info("poll remote delete", "path", path)
	}

	if err := saveState(p.cfg.StatePath, p.state); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (p *Poller) upload(ctx context.Context, path, base string, uploaded map[string]bool) error {
	abs := filepath.Join(p.cfg.Root, filepath.FromSlash(path))
	content, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			// Vanished between scan and read; the next pass sees the delete.
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	res, err := p.cfg.API.Upload(ctx, path, content, base)
	if errors.Is(err, sdk.ErrConflict) {
		// The server kept its version and parked ours in a sibling copy.
		// Leaving the state untouched makes the download pass below pull
		// the authoritative content over the local file.
		slog.Warn("poll upload conflict", "path", path, "conflictCopy", res.ConflictCopy)
		return nil
	}
	if err != nil {
		return err
	}

	fp := res.Fingerprint
	if fp == "" {
		fp = fingerprint.Bytes(content)
	}
	p.state[path] = fp
	uploaded[path] = true
	slog.Info("poll upload", "path", path,
		"version", res.Version, "size", humanize.IBytes(uint64(len(content))))
	return nil
}

func (p *Poller) download(ctx context.Context, path string) error {
	content, err := p.cfg.API.Download(ctx, path)
	if err != nil {
		if errors.Is(err, sdk.ErrNotFound) {
			// Index entry went stale mid-pass; the next pass reconciles it.
			return nil
		}
		return err
	}

	abs := filepath.Join(p.cfg.Root, filepath.FromSlash(path))
	if err := utils.WriteFileAtomic(abs, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	p.state[path] = fingerprint.Bytes(content)
	slog.Info("poll download", "path", path, "size", humanize.IBytes(uint64(len(content))))
	return nil
}
