package server

import (
	"github.com/driftsync/driftsync/internal/eventlog"
	"github.com/driftsync/driftsync/internal/replica"
)

// newMirrorEngine builds the replica engine that keeps the server's own
// storage tree in step with the event log. It talks to the log directly,
// no HTTP hop, and uses the server's node id so clients can suppress
// echoes of server-originated events.
func newMirrorEngine(cfg *Config, log *eventlog.Log) (*replica.Engine, error) {
	return replica.NewEngine(replica.Config{
		Root:         cfg.DataDir,
		NodeID:       cfg.NodeID,
		Transport:    log,
		StatePath:    cfg.StatePath(),
		ScanInterval: cfg.ScanInterval,
		PullInterval: cfg.PullInterval,
		WatchFS:      true,
	})
}
