// Package fingerprint produces stable content digests used as equality
// proxies throughout the sync protocol. Two files are considered identical
// iff their fingerprints are equal; raw bytes are never compared once a
// fingerprint is available.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Size is the length of a hex-encoded fingerprint.
const Size = sha256.Size * 2

// Bytes returns the hex-encoded SHA-256 digest of b.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// File returns the hex-encoded SHA-256 digest of the file at path.
// I/O errors are propagated to the caller.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Reader returns the hex-encoded SHA-256 digest of everything read from r.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
