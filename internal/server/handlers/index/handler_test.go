package index

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/fingerprint"
	"github.com/driftsync/driftsync/internal/protocol"
	idxstore "github.com/driftsync/driftsync/internal/server/index"
	"github.com/driftsync/driftsync/internal/server/storage"
)

type testServer struct {
	router *gin.Engine
	store  *storage.LocalStore
	idx    *idxstore.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	idx, err := idxstore.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	h := New(store, idx)
	r := gin.New()
	r.GET("/api/v1/index", h.GetIndex)
	r.GET("/api/v1/download", h.Download)
	r.POST("/api/v1/upload", h.Upload)
	r.POST("/api/v1/delete", h.Delete)
	return &testServer{router: r, store: store, idx: idx}
}

func (s *testServer) upload(t *testing.T, path, content, base string) (*httptest.ResponseRecorder, *protocol.UploadResponse) {
	t.Helper()
	meta, err := json.Marshal(&protocol.UploadMeta{Path: path, BaseFingerprint: base})
	require.NoError(t, err)

	body := append(meta, []byte(content)...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", bytes.NewReader(body))
	req.Header.Set(protocol.MetaLengthHeader, strconv.Itoa(len(meta)))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var res protocol.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return w, &res
}

func (s *testServer) getIndex(t *testing.T) map[string]*protocol.IndexEntry {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/index", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var res protocol.IndexResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res.Index
}

func TestUpload_NewFileGetsVersionOne(t *testing.T) {
	s := newTestServer(t)

	w, res := s.upload(t, "docs/a.txt", "hello", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, res.OK)
	assert.EqualValues(t, 1, res.Version)
	assert.Equal(t, fingerprint.Bytes([]byte("hello")), res.Fingerprint)

	data, err := s.store.Read("docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestUpload_EditWithCurrentBaseBumpsVersion(t *testing.T) {
	s := newTestServer(t)

	_, first := s.upload(t, "a.txt", "v1", "")
	w, res := s.upload(t, "a.txt", "v2", first.Fingerprint)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, res.OK)
	assert.EqualValues(t, 2, res.Version)

	data, err := s.store.Read("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestUpload_SameContentIsNoOp(t *testing.T) {
	s := newTestServer(t)

	_, first := s.upload(t, "a.txt", "same", "")
	w, res := s.upload(t, "a.txt", "same", "whatever-base")

	// Equal fingerprints succeed without a version bump, regardless of
	// the declared base.
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, res.OK)
	assert.Equal(t, first.Version, res.Version)
}

func TestUpload_StaleBaseWritesConflictCopy(t *testing.T) {
	s := newTestServer(t)

	_, v1 := s.upload(t, "report.txt", "original", "")
	_, _ = s.upload(t, "report.txt", "edit from b", v1.Fingerprint)

	// A's edit is based on v1, which the server no longer holds.
	w, res := s.upload(t, "report.txt", "edit from a", v1.Fingerprint)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, res.OK)
	require.NotEmpty(t, res.ConflictCopy)
	assert.True(t, strings.HasPrefix(res.ConflictCopy, "report (conflict @"))
	assert.True(t, strings.HasSuffix(res.ConflictCopy, ".txt"))

	// The server's file is untouched; the rejected content lives in the
	// sibling copy.
	data, err := s.store.Read("report.txt")
	require.NoError(t, err)
	assert.Equal(t, "edit from b", string(data))

	copyData, err := s.store.Read(res.ConflictCopy)
	require.NoError(t, err)
	assert.Equal(t, "edit from a", string(copyData))

	// The conflict copy replicates outward like any other file.
	idx := s.getIndex(t)
	assert.Contains(t, idx, res.ConflictCopy)
}

func TestUpload_RejectsMissingMetaHeader(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", bytes.NewReader([]byte("junk")))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownload_RoundTripAndMissing(t *testing.T) {
	s := newTestServer(t)
	s.upload(t, "a.txt", "payload", "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/download?path=a.txt", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "payload", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/download?path=missing.txt", nil)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/download?path=../escape", nil)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDelete_RemovesFileAndEntry(t *testing.T) {
	s := newTestServer(t)
	s.upload(t, "dir/a.txt", "bye", "")

	body, _ := json.Marshal(&protocol.DeleteRequest{Path: "dir/a.txt"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/delete", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	_, err := s.store.Read("dir/a.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NotContains(t, s.getIndex(t), "dir/a.txt")
}

func TestGetIndex_PicksUpDiskSideEdits(t *testing.T) {
	s := newTestServer(t)
	_, v1 := s.upload(t, "a.txt", "uploaded", "")

	// Edit the file behind the handler's back, as the server's own tools
	// would. Backdating the index mod time forces the refresh to rehash.
	abs, err := s.store.Resolve("a.txt")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(abs, []byte("edited on disk"), 0o644))

	entry, err := s.idx.Get(context.Background(), "a.txt")
	require.NoError(t, err)
	entry.ModTime = entry.ModTime.Add(-time.Hour)
	require.NoError(t, s.idx.Set(context.Background(), "a.txt", entry))

	idx := s.getIndex(t)
	require.Contains(t, idx, "a.txt")
	assert.Equal(t, fingerprint.Bytes([]byte("edited on disk")), idx["a.txt"].Fingerprint)
	// Versions only move on uploads.
	assert.Equal(t, v1.Version, idx["a.txt"].Version)
}

func TestGetIndex_DropsVanishedFiles(t *testing.T) {
	s := newTestServer(t)
	s.upload(t, "gone.txt", "x", "")

	abs, err := s.store.Resolve("gone.txt")
	require.NoError(t, err)
	require.NoError(t, os.Remove(abs))

	assert.NotContains(t, s.getIndex(t), "gone.txt")
}
