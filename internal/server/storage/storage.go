// Package storage is the server's local disk store: a rooted directory
// tree with safe path resolution, atomic writes and empty-parent pruning
// on delete.
package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/driftsync/driftsync/internal/protocol"
	"github.com/driftsync/driftsync/internal/utils"
)

var ErrNotFound = errors.New("storage: path not found")

// LocalStore serves and persists files under a single root directory.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := utils.ResolvePath(root)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(abs); err != nil {
		return nil, err
	}
	return &LocalStore{root: abs}, nil
}

func (s *LocalStore) Root() string {
	return s.root
}

// Resolve maps a logical sync path to an absolute path inside the root,
// rejecting traversal.
func (s *LocalStore) Resolve(relPath string) (string, error) {
	normalized, err := protocol.NormalizePath(relPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(normalized)), nil
}

func (s *LocalStore) Read(relPath string) ([]byte, error) {
	abs, err := s.Resolve(relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *LocalStore) Stat(relPath string) (os.FileInfo, error) {
	abs, err := s.Resolve(relPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return info, err
}

func (s *LocalStore) Write(relPath string, content []byte) error {
	abs, err := s.Resolve(relPath)
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(abs, content, 0o644)
}

// Delete removes the file and any directories left empty between it and
// the root. Deleting a missing file is not an error.
func (s *LocalStore) Delete(relPath string) error {
	abs, err := s.Resolve(relPath)
	if err != nil {
		return err
	}

	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	utils.PruneEmptyDirs(s.root, abs)
	return nil
}

// WalkFunc visits one regular file with its logical path and mod time.
type WalkFunc func(relPath string, modTime time.Time) error

// Walk visits every regular non-hidden file in the tree.
func (s *LocalStore) Walk(fn WalkFunc) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && filepath.Base(path)[0] == '.' {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || filepath.Base(path)[0] == '.' {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		return fn(rel, info.ModTime())
	})
}
