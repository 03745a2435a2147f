package protocol

import "time"

// IndexEntry is one row of the server index used by the polling protocol.
// Version increments once per accepted upload of the path.
type IndexEntry struct {
	Fingerprint string    `json:"fingerprint" db:"fingerprint"`
	ModTime     time.Time `json:"mod_time" db:"mod_time"`
	Version     int64     `json:"version" db:"version"`
}

// IndexResponse is the full path -> entry map returned by GET /index.
type IndexResponse struct {
	Index map[string]*IndexEntry `json:"index"`
	TS    time.Time              `json:"ts"`
}

// UploadMeta is the JSON metadata prefix of an upload body. The declared
// BaseFingerprint is the server fingerprint the client last saw for the
// path; it is the basis for conflict detection.
type UploadMeta struct {
	Path            string `json:"path"`
	BaseFingerprint string `json:"base_fingerprint,omitempty"`
}

// UploadResponse reports the outcome of an upload. On conflict OK is
// false and ConflictCopy names the sibling file holding the rejected
// content.
type UploadResponse struct {
	OK           bool   `json:"ok"`
	Version      int64  `json:"version,omitempty"`
	Fingerprint  string `json:"fingerprint,omitempty"`
	ConflictCopy string `json:"conflict_copy,omitempty"`
}

// DeleteRequest removes a path from the server tree and index.
type DeleteRequest struct {
	Path string `json:"path"`
}

// DeleteResponse acknowledges a delete.
type DeleteResponse struct {
	OK bool `json:"ok"`
}

// MetaLengthHeader carries the byte length of the JSON metadata prefix
// in an upload request body.
const MetaLengthHeader = "X-Meta-Length"
