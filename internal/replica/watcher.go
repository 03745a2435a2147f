package replica

import (
	"log/slog"

	"github.com/rjeczalik/notify"
)

// FileWatcher delivers filesystem notifications for the watched tree so
// the scan loop can wake up early instead of waiting out its interval.
// It is an optimization only; the periodic scan remains the source of
// truth for change detection.
type FileWatcher struct {
	watchDir string
	events   chan notify.EventInfo
}

func NewFileWatcher(watchDir string) *FileWatcher {
	return &FileWatcher{
		watchDir: watchDir,
		// Buffered so a burst of events does not block the OS notifier.
		events: make(chan notify.EventInfo, 64),
	}
}

func (fw *FileWatcher) Start() error {
	slog.Info("file watcher start", "dir", fw.watchDir)

	recursivePath := fw.watchDir + "/..."
	return notify.Watch(recursivePath, fw.events, notify.Create, notify.Write, notify.Remove, notify.Rename)
}

func (fw *FileWatcher) Stop() {
	notify.Stop(fw.events)
	slog.Info("file watcher stop")
}

func (fw *FileWatcher) Events() <-chan notify.EventInfo {
	return fw.events
}
