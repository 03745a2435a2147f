package replica

import (
	"context"

	"github.com/driftsync/driftsync/internal/protocol"
)

// Transport moves events between this node and the event log: push new
// local events, pull events past a cursor. Clients talk to the server
// over HTTP; the server's own engine reads and writes the log directly.
type Transport interface {
	Append(ctx context.Context, ev *protocol.ChangeEvent) (int64, error)
	EventsSince(ctx context.Context, since int64, limit int) ([]*protocol.ChangeEvent, error)
}
