package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/ringstore/ringstore/internal/cache"
	"github.com/ringstore/ringstore/internal/metrics"
	"github.com/ringstore/ringstore/internal/ring"
	"github.com/ringstore/ringstore/internal/store"
	"github.com/ringstore/ringstore/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store   *store.Store
	ring    *ring.Ring
	metrics *metrics.NodeMetrics
	handler http.Handler
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	t.Setenv("RINGSTORE_TEST", "1")

	st, err := store.New(store.Options{
		Root:  t.TempDir(),
		Cache: cache.New[string, *store.Download](cache.Config[*store.Download]{MaxSize: 16}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	_, err = st.CreateBucket("photos", false)
	require.NoError(t, err)

	r := ring.New(7)
	require.NoError(t, r.Register(&ring.Node{ID: "node-a"}))

	m := metrics.NewNodeMetrics(prometheus.NewRegistry(), "node-a", "test")
	cfg := Config{
		Store:         st,
		Ring:          r,
		Metrics:       m,
		NodeID:        "node-a",
		DefaultBucket: "photos",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &testEnv{store: st, ring: r, metrics: m, handler: New(cfg).Handler()}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(t *testing.T, path string, body []byte, metaJSON string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/octet-stream")
	if metaJSON != "" {
		req.Header.Set(MetadataHeader, metaJSON)
	}
	return e.do(req)
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.upload(t, "/upload/photos/cat.png", []byte("meow"), `{"camera": "x100", "iso": 400}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "node-a", w.Header().Get(NodeHeader))
	resp := decodeJSON(t, w)
	assert.Equal(t, "Object uploaded successfully", resp["message"])
	id, _ := resp["uuid"].(string)
	assert.NotEmpty(t, id)

	w = env.do(httptest.NewRequest(http.MethodGet, "/download/photos/cat/image/png", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "meow", w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, `"`+id+`"`, w.Header().Get("ETag"))
	assert.Equal(t, "node-a", w.Header().Get(NodeHeader))

	var md map[string]any
	require.NoError(t, json.Unmarshal([]byte(w.Header().Get(MetadataHeader)), &md))
	assert.Equal(t, id, md["uuid"])
	assert.Equal(t, "cat", md["object name"])
	assert.Equal(t, "photos", md["bucket_name"])
	assert.Equal(t, "png", md["object_type"])
	assert.Equal(t, "png", md["type"])
	assert.Equal(t, "x100", md["camera"])
	assert.Equal(t, 400.0, md["iso"])
}

func TestMultipartUpload(t *testing.T) {
	env := newTestEnv(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(uploadField, "report.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.7"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload/photos/report.pdf", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(httptest.NewRequest(http.MethodGet, "/download/photos/report/application/pdf", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.7", w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
}

func TestMultipartUploadMissingField(t *testing.T) {
	env := newTestEnv(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload/photos/cat.png", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := env.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDefaultBucketRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.upload(t, "/upload/dog.jpeg", []byte("woof"), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(httptest.NewRequest(http.MethodGet, "/download/dog/image/jpeg", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "woof", w.Body.String())

	// Same object through the explicit bucket route
	w = env.do(httptest.NewRequest(http.MethodGet, "/download/photos/dog/image/jpeg", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDefaultBucketRoutesDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.DefaultBucket = "" })

	w := env.upload(t, "/upload/dog.jpeg", []byte("woof"), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.upload(t, "/upload/photos/cat.png", []byte("v1"), "").Code)

	tests := []struct {
		name     string
		path     string
		metaJSON string
		want     int
	}{
		{"duplicate", "/upload/photos/cat.png", "", http.StatusConflict},
		{"missing bucket", "/upload/ghost/cat.png", "", http.StatusNotFound},
		{"no type", "/upload/photos/cat", "", http.StatusBadRequest},
		{"bad metadata", "/upload/photos/dog.png", `{"k": [1, 2]}`, http.StatusBadRequest},
		{"empty metadata value", "/upload/photos/dog.png", `{"k": ""}`, http.StatusBadRequest},
		{"null metadata", "/upload/photos/dog.png", `null`, http.StatusBadRequest},
		{"metadata not an object", "/upload/photos/dog.png", `"tag"`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.upload(t, tt.path, []byte("x"), tt.metaJSON)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, decodeJSON(t, w)["error"])
		})
	}

	// The first payload survives the rejected duplicate
	w := env.do(httptest.NewRequest(http.MethodGet, "/download/photos/cat/image/png", nil))
	assert.Equal(t, "v1", w.Body.String())
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxUploadBytes = 8 })

	w := env.upload(t, "/upload/photos/big.bin", bytes.Repeat([]byte("x"), 100), "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestDownloadNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/download/photos/ghost/image/png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeJSON(t, w)["error"], "not found")

	w = env.do(httptest.NewRequest(http.MethodGet, "/download/ghost/cat/image/png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadGzip(t *testing.T) {
	env := newTestEnv(t, nil)
	payload := strings.Repeat("all work and no play ", 500)
	require.Equal(t, http.StatusOK, env.upload(t, "/upload/photos/notes.plain", []byte(payload), "").Code)

	req := httptest.NewRequest(http.MethodGet, "/download/photos/notes/text/plain", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	got, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
}

func TestNoLiveNode(t *testing.T) {
	env := newTestEnv(t, nil)
	env.ring.SoftDelete("node-a")

	w := env.upload(t, "/upload/photos/cat.png", []byte("x"), "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = env.do(httptest.NewRequest(http.MethodGet, "/download/photos/cat/image/png", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var m dto.Metric
	require.NoError(t, env.metrics.Unroutable.Write(&m))
	assert.Equal(t, 2.0, m.GetCounter().GetValue())
}

func TestRoutingReportsOwner(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.ring.Register(&ring.Node{ID: "node-b"}))

	key := objectKey("photos", "cat", "png")
	owner, ok := env.ring.LookupLive(key)
	require.True(t, ok)

	w := env.upload(t, "/upload/photos/cat.png", []byte("x"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, owner.ID, w.Header().Get(NodeHeader))

	var m dto.Metric
	require.NoError(t, env.metrics.RoutedRequests.WithLabelValues(owner.ID).Write(&m))
	assert.Equal(t, 1.0, m.GetCounter().GetValue())
}

func TestServesKeysOwnedByOtherNodes(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	other := ring.New(7)
	require.NoError(t, other.Register(&ring.Node{ID: "node-b"}))
	env := newTestEnv(t, func(c *Config) { c.Ring = other })

	w := env.upload(t, "/upload/photos/cat.png", []byte("x"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "node-b", w.Header().Get(NodeHeader))
	assert.Contains(t, logs.String(), "Serving key owned by another node")
	assert.Contains(t, logs.String(), `"owner":"node-b"`)
}

func TestWithoutRing(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Ring = nil })

	w := env.upload(t, "/upload/photos/cat.png", []byte("x"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "node-a", w.Header().Get(NodeHeader))
}

func TestBucketRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(httptest.NewRequest(http.MethodPut, "/buckets/docs?private=true", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decodeJSON(t, w)["Is Private"])

	w = env.do(httptest.NewRequest(http.MethodPut, "/buckets/docs?private=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/buckets", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"docs", "photos"}, decodeJSON(t, w)["buckets"])

	require.Equal(t, http.StatusOK, env.upload(t, "/upload/docs/readme.md", []byte("# hi"), "").Code)
	w = env.do(httptest.NewRequest(http.MethodGet, "/buckets/docs/objects", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{map[string]any{"name": "readme", "type": "md"}}, decodeJSON(t, w)["objects"])

	w = env.do(httptest.NewRequest(http.MethodGet, "/buckets/docs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "docs", decodeJSON(t, w)["Bucket Name"])

	w = env.do(httptest.NewRequest(http.MethodDelete, "/buckets/docs", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(httptest.NewRequest(http.MethodDelete, "/buckets/docs", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(httptest.NewRequest(http.MethodGet, "/buckets/docs/objects", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		})
	})

	w := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "node-a", decodeJSON(t, w)["node"])

	w = env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics", w.Body.String())
}

func TestTraceRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(httptest.NewRequest(http.MethodGet, "/debug/trace", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	env = newTestEnv(t, func(c *Config) {
		c.TraceHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("trace"))
		})
	})
	w = env.do(httptest.NewRequest(http.MethodGet, "/debug/trace", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "trace", w.Body.String())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(store.ErrObjectNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(store.ErrAlreadyExists))
	assert.Equal(t, http.StatusBadRequest, statusFor(store.ErrInvalidArgument))
	assert.Equal(t, http.StatusInternalServerError, statusFor(store.ErrIO))
}
