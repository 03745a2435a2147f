package replica

import (
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// PendingOrigin tracks (path, fingerprint, deleted) tuples for events this
// node pushed to the log but has not yet seen echoed back. Entries expire
// after a bounded delay; an expired entry only costs a redundant disk
// write, never an inconsistency.
type PendingOrigin struct {
	entries *expirable.LRU[string, struct{}]
}

func NewPendingOrigin(ttl time.Duration) *PendingOrigin {
	return &PendingOrigin{
		entries: expirable.NewLRU[string, struct{}](65536, nil, ttl),
	}
}

// Add registers a locally originated change before it is appended to the
// log, so the echo is recognized when it comes back.
func (p *PendingOrigin) Add(path, fp string, deleted bool) {
	p.entries.Add(pendingKey(path, fp, deleted), struct{}{})
}

// TakeMatch reports whether the tuple is pending and removes it. Each
// pushed event is echoed back exactly once.
func (p *PendingOrigin) TakeMatch(path, fp string, deleted bool) bool {
	key := pendingKey(path, fp, deleted)
	if _, ok := p.entries.Get(key); !ok {
		return false
	}
	p.entries.Remove(key)
	return true
}

func (p *PendingOrigin) Len() int {
	return p.entries.Len()
}

func pendingKey(path, fp string, deleted bool) string {
	return path + "\x1f" + fp + "\x1f" + strconv.FormatBool(deleted)
}
