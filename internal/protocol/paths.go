package protocol

import (
	"errors"
	"path"
	"strings"
)

var ErrInvalidPath = errors.New("invalid sync path")

// NormalizePath canonicalizes a logical sync path: slash separated,
// cleaned, relative, with no traversal outside the tree root. The
// normalized path is the unique key for "current state of a file".
func NormalizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(strings.TrimPrefix(p, "/"))

	if p == "" || p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", ErrInvalidPath
	}
	return p, nil
}
