// Package sdk is the HTTP client for the DriftSync server. It covers both
// protocol flavors: event push/pull for the log protocol and
// index/download/upload/delete for the polling protocol.
package sdk

import (
	"time"

	"github.com/imroc/req/v3"

	"github.com/driftsync/driftsync/internal/version"
)

const (
	HeaderUserAgent = "User-Agent"
)

// Client is the main entry point for talking to a DriftSync server.
type Client struct {
	http    *req.Client
	baseURL string

	Events *EventsAPI
	Index  *IndexAPI
}

// New creates a Client for the given server base URL. All calls carry
// bounded timeouts and a small fixed retry budget; loop-level backoff is
// the caller's responsibility.
func New(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, ErrNoServerURL
	}

	client := req.C().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetCommonRetryCount(2).
		SetCommonRetryFixedInterval(1 * time.Second).
		SetUserAgent("DriftSync/" + version.Version).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		SetCommonErrorResult(&APIError{})

	return &Client{
		http:    client,
		baseURL: baseURL,
		Events:  newEventsAPI(client),
		Index:   newIndexAPI(client),
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.GetClient().CloseIdleConnections()
}
