package sdk

import (
	"context"
	"net/http"
	"strconv"

	"github.com/imroc/req/v3"

	"github.com/driftsync/driftsync/internal/protocol"
)

const (
	v1Index    = "/api/v1/index"
	v1Download = "/api/v1/download"
	v1Upload   = "/api/v1/upload"
	v1Delete   = "/api/v1/delete"
)

// IndexAPI implements the polling protocol: full index fetch, whole-file
// download/upload and explicit delete.
type IndexAPI struct {
	client *req.Client
}

func newIndexAPI(client *req.Client) *IndexAPI {
	return &IndexAPI{client: client}
}

// Get fetches the full server index.
func (i *IndexAPI) Get(ctx context.Context) (map[string]*protocol.IndexEntry, error) {
	var result protocol.IndexResponse
	res, err := i.client.R().
		SetContext(ctx).
		SetSuccessResult(&result).
		Get(v1Index)

	if err := handleAPIError(res, err, "get index"); err != nil {
		return nil, err
	}
	return result.Index, nil
}

// Download fetches the raw bytes of one path.
func (i *IndexAPI) Download(ctx context.Context, path string) ([]byte, error) {
	res, err := i.client.R().
		SetContext(ctx).
		SetQueryParam("path", path).
		Get(v1Download)

	if err := handleAPIError(res, err, "download "+path); err != nil {
		return nil, err
	}
	return res.Bytes(), nil
}

// Upload pushes a whole file tagged with the server fingerprint the
// client last saw. A 409 response is returned as ErrConflict together
// with the UploadResponse naming the conflict copy.
func (i *IndexAPI) Upload(ctx context.Context, path string, content []byte, baseFingerprint string) (*protocol.UploadResponse, error) {
	meta, err := jsonMarshal(&protocol.UploadMeta{
		Path:            path,
		BaseFingerprint: baseFingerprint,
	})
	if err != nil {
		return nil, err
	}

	body := make([]byte, 0, len(meta)+len(content))
	body = append(body, meta...)
	body = append(body, content...)

	res, reqErr := i.client.R().
		SetContext(ctx).
		SetHeader(protocol.MetaLengthHeader, strconv.Itoa(len(meta))).
		SetContentType("application/octet-stream").
		SetBodyBytes(body).
		Post(v1Upload)

	if res != nil && res.StatusCode == http.StatusConflict {
		var result protocol.UploadResponse
		if err := jsonUnmarshal(res.Bytes(), &result); err != nil {
			return nil, err
		}
		return &result, ErrConflict
	}

	if err := handleAPIError(res, reqErr, "upload "+path); err != nil {
		return nil, err
	}

	var result protocol.UploadResponse
	if err := jsonUnmarshal(res.Bytes(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Delete removes a path from the server tree and index.
func (i *IndexAPI) Delete(ctx context.Context, path string) error {
	var result protocol.DeleteResponse
	res, err := i.client.R().
		SetContext(ctx).
		SetBody(&protocol.DeleteRequest{Path: path}).
		SetSuccessResult(&result).
		Post(v1Delete)

	return handleAPIError(res, err, "delete "+path)
}
