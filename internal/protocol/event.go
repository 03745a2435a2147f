// Package protocol holds the wire types shared by the sync server and its
// clients: change events for the event-log protocol and the index/upload
// types for the polling protocol.
package protocol

import (
	"time"

	"github.com/driftsync/driftsync/internal/fingerprint"
)

// EventKind classifies a change event.
type EventKind string

const (
	// KindUpdated covers both create and modify; the event carries the
	// full content and its fingerprint.
	KindUpdated EventKind = "updated"

	// KindDeleted carries neither content nor fingerprint.
	KindDeleted EventKind = "deleted"
)

// ChangeEvent is the unit of replication. Events are immutable once
// appended to the log; Sequence is assigned by the log and totally orders
// events across all origins.
type ChangeEvent struct {
	Sequence    int64     `json:"sequence,omitempty" db:"sequence"`
	Path        string    `json:"path" db:"path"`
	Kind        EventKind `json:"kind" db:"kind"`
	Fingerprint string    `json:"fingerprint,omitempty" db:"fingerprint"`
	Content     []byte    `json:"content,omitempty" db:"content"`
	Origin      string    `json:"origin" db:"origin"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}

// NewUpdated builds an Updated event carrying the full content and its
// fingerprint. Sequence is left for the log to assign.
func NewUpdated(path string, content []byte, origin string) *ChangeEvent {
	return &ChangeEvent{
		Path:        path,
		Kind:        KindUpdated,
		Fingerprint: fingerprint.Bytes(content),
		Content:     content,
		Origin:      origin,
		Timestamp:   time.Now().UTC(),
	}
}

// NewDeleted builds a Deleted event; it carries neither content nor
// fingerprint.
func NewDeleted(path, origin string) *ChangeEvent {
	return &ChangeEvent{
		Path:      path,
		Kind:      KindDeleted,
		Origin:    origin,
		Timestamp: time.Now().UTC(),
	}
}

// Deleted reports whether the event describes a deletion.
func (e *ChangeEvent) Deleted() bool {
	return e.Kind == KindDeleted
}

// PushEventResponse acknowledges an appended event.
type PushEventResponse struct {
	Status   string `json:"status"`
	Sequence int64  `json:"sequence"`
}

// SyncResponse carries the events with sequence > the requested cursor,
// in ascending order.
type SyncResponse struct {
	Events []*ChangeEvent `json:"events"`
}
