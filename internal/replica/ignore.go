package replica

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is an optional gitignore-style file at the tree root with
// extra ignore rules. Being a dotfile it is never synced itself.
const IgnoreFileName = ".driftsyncignore"

// Dotfiles cover the node's own bookkeeping (state file, atomic write
// temp files) wherever it lives.
var defaultIgnoreLines = []string{
	".*",
	"**/.*",
	"*.tmp",
	"*.swp",
}

// IgnoreList decides which paths the observer skips, combining built-in
// rules with the tree's own ignore file.
type IgnoreList struct {
	baseDir string
	matcher *gitignore.GitIgnore
}

func NewIgnoreList(baseDir string) *IgnoreList {
	lines := make([]string, 0, len(defaultIgnoreLines)+8)
	lines = append(lines, defaultIgnoreLines...)

	if data, err := os.ReadFile(filepath.Join(baseDir, IgnoreFileName)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			lines = append(lines, line)
		}
	}

	return &IgnoreList{
		baseDir: baseDir,
		matcher: gitignore.CompileIgnoreLines(lines...),
	}
}

// ShouldIgnore matches a slash-normalized tree-relative path.
func (l *IgnoreList) ShouldIgnore(relPath string) bool {
	return l.matcher.MatchesPath(relPath)
}
