// Package index exposes the polling protocol over HTTP: full index
// fetch, whole-file download/upload with version-based conflict
// detection, and explicit delete.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/driftsync/driftsync/internal/fingerprint"
	"github.com/driftsync/driftsync/internal/protocol"
	"github.com/driftsync/driftsync/internal/server/handlers/api"
	idxstore "github.com/driftsync/driftsync/internal/server/index"
	"github.com/driftsync/driftsync/internal/server/storage"
)

type Handler struct {
	store *storage.LocalStore
	idx   *idxstore.Store
}

func New(store *storage.LocalStore, idx *idxstore.Store) *Handler {
	return &Handler{store: store, idx: idx}
}

// GetIndex handles GET /api/v1/index. The index is refreshed from disk
// first so server-side edits to the storage tree replicate outward.
func (h *Handler) GetIndex(ctx *gin.Context) {
	if err := h.RefreshFromDisk(ctx.Request.Context()); err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeIndexReadFailed, err)
		return
	}

	all, err := h.idx.All(ctx.Request.Context())
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeIndexReadFailed, err)
		return
	}

	ctx.PureJSON(http.StatusOK, protocol.IndexResponse{
		Index: all,
		TS:    time.Now().UTC(),
	})
}

// Download handles GET /api/v1/download?path=...
func (h *Handler) Download(ctx *gin.Context) {
	relPath := ctx.Query("path")
	data, err := h.store.Read(relPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			api.AbortWithError(ctx, http.StatusNotFound, api.CodeFileNotFound, err)
			return
		}
		if errors.Is(err, protocol.ErrInvalidPath) {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
			return
		}
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	ctx.Data(http.StatusOK, "application/octet-stream", data)
}

// Upload handles POST /api/v1/upload. The body is a JSON metadata prefix
// (its byte length in the X-Meta-Length header) followed by the raw file
// content. A conflict - the existing server file differs from both the
// incoming content and the client's declared base fingerprint - stores
// the incoming content under a derived sibling name and returns 409; the
// existing file is never overwritten.
func (h *Handler) Upload(ctx *gin.Context) {
	metaLen, err := strconv.Atoi(ctx.GetHeader(protocol.MetaLengthHeader))
	if err != nil || metaLen <= 0 {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest,
			errors.New("missing or invalid "+protocol.MetaLengthHeader+" header"))
		return
	}

	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}
	if metaLen > len(body) {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest,
			errors.New("metadata length exceeds body"))
		return
	}

	var meta protocol.UploadMeta
	if err := json.Unmarshal(body[:metaLen], &meta); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	relPath, err := protocol.NormalizePath(meta.Path)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	content := body[metaLen:]
	incomingFP := fingerprint.Bytes(content)

	existing, err := h.idx.Get(ctx.Request.Context(), relPath)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeUploadFailed, err)
		return
	}

	// No real change: success without a version bump.
	if existing != nil && existing.Fingerprint == incomingFP {
		ctx.PureJSON(http.StatusOK, protocol.UploadResponse{
			OK:          true,
			Version:     existing.Version,
			Fingerprint: incomingFP,
		})
		return
	}

	if existing != nil && existing.Fingerprint != meta.BaseFingerprint {
		// The client edited a version the server no longer holds.
		conflictCopy := conflictCopyName(relPath, time.Now())
		if err := h.store.Write(conflictCopy, content); err != nil {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeUploadFailed, err)
			return
		}
		ctx.PureJSON(http.StatusConflict, protocol.UploadResponse{
			OK:           false,
			Version:      existing.Version,
			ConflictCopy: conflictCopy,
		})
		return
	}

	if err := h.store.Write(relPath, content); err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeUploadFailed, err)
		return
	}

	version := int64(1)
	if existing != nil {
		version = existing.Version + 1
	}
	entry := &protocol.IndexEntry{
		Fingerprint: incomingFP,
		ModTime:     time.Now().UTC(),
		Version:     version,
	}
	if err := h.idx.Set(ctx.Request.Context(), relPath, entry); err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeUploadFailed, err)
		return
	}

	ctx.PureJSON(http.StatusOK, protocol.UploadResponse{
		OK:          true,
		Version:     version,
		Fingerprint: incomingFP,
	})
}

// Delete handles POST /api/v1/delete.
func (h *Handler) Delete(ctx *gin.Context) {
	var req protocol.DeleteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	relPath, err := protocol.NormalizePath(req.Path)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	if err := h.store.Delete(relPath); err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeDeleteFailed, err)
		return
	}
	if err := h.idx.Delete(ctx.Request.Context(), relPath); err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeDeleteFailed, err)
		return
	}

	ctx.PureJSON(http.StatusOK, protocol.DeleteResponse{OK: true})
}

// RefreshFromDisk reconciles the index with the storage tree: new or
// touched files get their fingerprints recomputed, vanished files are
// dropped. Versions only change through accepted uploads.
func (h *Handler) RefreshFromDisk(reqCtx context.Context) error {
	known, err := h.idx.All(reqCtx)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(known))
	err = h.store.Walk(func(relPath string, modTime time.Time) error {
		seen[relPath] = struct{}{}

		entry := known[relPath]
		if entry != nil && entry.ModTime.Equal(modTime) {
			return nil
		}

		abs, resolveErr := h.store.Resolve(relPath)
		if resolveErr != nil {
			return resolveErr
		}
		fp, hashErr := fingerprint.File(abs)
		if hashErr != nil {
			// Unreadable mid-walk; retried on the next refresh.
			return nil
		}

		// Versions only move on accepted uploads; a disk-side edit keeps
		// the version and refreshes fingerprint and mod time.
		version := int64(1)
		if entry != nil {
			version = entry.Version
		}
		return h.idx.Set(reqCtx, relPath, &protocol.IndexEntry{
			Fingerprint: fp,
			ModTime:     modTime,
			Version:     version,
		})
	})
	if err != nil {
		return err
	}

	for relPath := range known {
		if _, ok := seen[relPath]; !ok {
			if err := h.idx.Delete(reqCtx, relPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// conflictCopyName derives the sibling path holding rejected upload
// content: same stem, conflict marker and timestamp before the extension.
func conflictCopyName(relPath string, now time.Time) string {
	ext := path.Ext(relPath)
	stem := relPath[:len(relPath)-len(ext)]
	return fmt.Sprintf("%s (conflict @%d)%s", stem, now.Unix(), ext)
}
