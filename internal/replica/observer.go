package replica

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/driftsync/driftsync/internal/fingerprint"
)

// Observer turns local disk state into a Snapshot. It has no sub-interval
// resolution: a file deleted and recreated between two scans is observed
// as a single update, or nothing if the net fingerprint matches.
type Observer struct {
	root   string
	ignore *IgnoreList
}

func NewObserver(root string, ignore *IgnoreList) *Observer {
	return &Observer{root: root, ignore: ignore}
}

// Scan walks the watched tree and fingerprints every regular file not
// matching an ignore rule. Unreadable files are logged and skipped; the
// scan never fails on a single path.
func (o *Observer) Scan(ctx context.Context) (Snapshot, error) {
	snapshot := make(Snapshot)

	err := filepath.WalkDir(o.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("observer walk", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(o.root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && o.ignore.ShouldIgnore(rel+"/") {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || o.ignore.ShouldIgnore(rel) {
			return nil
		}

		fp, hashErr := fingerprint.File(path)
		if hashErr != nil {
			// Likely deleted mid-scan or unreadable; the next scan picks it up.
			slog.Warn("observer hash", "path", rel, "error", hashErr)
			return nil
		}
		snapshot[rel] = fp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}
