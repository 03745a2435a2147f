package sdk

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL = errors.New("sdk: server url missing")

	// ErrConflict marks a rejected upload in the polling protocol; the
	// accompanying UploadResponse names the conflict copy.
	ErrConflict = errors.New("sdk: upload conflict")

	// ErrNotFound maps a 404 download, usually a stale index entry.
	ErrNotFound = errors.New("sdk: not found")
)

// APIError is the JSON error body returned by the server.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// handleAPIError folds transport errors and API error bodies into one
// error return.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s %w", operation, requestErr)
	}

	// got a response, but api returned an error
	if resp.IsErrorState() {
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: %w", operation, ErrNotFound)
		}
		if err, ok := resp.ErrorResult().(*APIError); ok {
			return fmt.Errorf("%s: %w", operation, err)
		}
		return fmt.Errorf("api error: %s %s", operation, resp.String())
	}

	return nil
}
