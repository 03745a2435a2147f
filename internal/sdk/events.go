package sdk

import (
	"context"
	"strconv"

	"github.com/imroc/req/v3"

	"github.com/driftsync/driftsync/internal/protocol"
)

const (
	v1Event = "/api/v1/event"
	v1Sync  = "/api/v1/sync"
)

// EventsAPI implements the event-log protocol: push new events, pull
// events past a cursor. It satisfies the replica engine's Transport.
type EventsAPI struct {
	client *req.Client
}

func newEventsAPI(client *req.Client) *EventsAPI {
	return &EventsAPI{client: client}
}

// Append pushes a change event and returns the sequence number the log
// assigned to it.
func (e *EventsAPI) Append(ctx context.Context, ev *protocol.ChangeEvent) (int64, error) {
	var result protocol.PushEventResponse
	res, err := e.client.R().
		SetContext(ctx).
		SetBody(ev).
		SetSuccessResult(&result).
		Post(v1Event)

	if err := handleAPIError(res, err, "push event"); err != nil {
		return 0, err
	}
	return result.Sequence, nil
}

// EventsSince returns all events with sequence > since in ascending
// order. A positive limit caps the batch.
func (e *EventsAPI) EventsSince(ctx context.Context, since int64, limit int) ([]*protocol.ChangeEvent, error) {
	var result protocol.SyncResponse
	r := e.client.R().
		SetContext(ctx).
		SetQueryParam("since", strconv.FormatInt(since, 10)).
		SetSuccessResult(&result)
	if limit > 0 {
		r.SetQueryParam("limit", strconv.Itoa(limit))
	}

	res, err := r.Get(v1Sync)
	if err := handleAPIError(res, err, "sync events"); err != nil {
		return nil, err
	}
	return result.Events, nil
}
