// Package events exposes the event-log protocol over HTTP: push one
// change event, pull events past a cursor.
package events

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/driftsync/driftsync/internal/eventlog"
	"github.com/driftsync/driftsync/internal/fingerprint"
	"github.com/driftsync/driftsync/internal/protocol"
	"github.com/driftsync/driftsync/internal/server/handlers/api"
)

// Mirror applies freshly appended events to the server's own storage
// tree so it stays consistent with the log without a second round trip.
type Mirror interface {
	ApplyRemote(ev *protocol.ChangeEvent)
}

type Handler struct {
	log    *eventlog.Log
	mirror Mirror
	selfID string
}

func New(log *eventlog.Log, mirror Mirror, selfID string) *Handler {
	return &Handler{
		log:    log,
		mirror: mirror,
		selfID: selfID,
	}
}

// PushEvent handles POST /api/v1/event.
func (h *Handler) PushEvent(ctx *gin.Context) {
	var ev protocol.ChangeEvent
	if err := ctx.ShouldBindJSON(&ev); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	path, err := protocol.NormalizePath(ev.Path)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeEventInvalidPath, err)
		return
	}
	ev.Path = path

	// The log assigns sequence numbers; whatever the client sent is noise.
	ev.Sequence = 0

	switch ev.Kind {
	case protocol.KindUpdated:
		if got := fingerprint.Bytes(ev.Content); ev.Fingerprint == "" {
			ev.Fingerprint = got
		} else if ev.Fingerprint != got {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest,
				errors.New("fingerprint does not match content"))
			return
		}
	case protocol.KindDeleted:
		ev.Fingerprint = ""
		ev.Content = nil
	default:
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeEventInvalidKind,
			errors.New("unknown event kind"))
		return
	}

	seq, err := h.log.Append(ctx.Request.Context(), &ev)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeEventAppendFailed, err)
		return
	}

	// Events originated by the server itself are already on its disk.
	if h.mirror != nil && ev.Origin != h.selfID {
		h.mirror.ApplyRemote(&ev)
	}

	ctx.PureJSON(http.StatusOK, protocol.PushEventResponse{
		Status:   "ok",
		Sequence: seq,
	})
}

// Sync handles GET /api/v1/sync?since=N&limit=M.
func (h *Handler) Sync(ctx *gin.Context) {
	since, err := strconv.ParseInt(ctx.DefaultQuery("since", "0"), 10, 64)
	if err != nil || since < 0 {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest,
			errors.New("invalid since cursor"))
		return
	}

	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest,
				errors.New("invalid limit"))
			return
		}
	}

	events, err := h.log.EventsSince(ctx.Request.Context(), since, limit)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeSyncFailed, err)
		return
	}
	if events == nil {
		events = []*protocol.ChangeEvent{}
	}

	ctx.PureJSON(http.StatusOK, protocol.SyncResponse{Events: events})
}
