// Package server exposes the object store over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/ringstore/ringstore/internal/metrics"
	"github.com/ringstore/ringstore/internal/ring"
	"github.com/ringstore/ringstore/internal/store"
	"github.com/rs/zerolog/log"
)

// NodeHeader names the ring node that owns the requested object.
const NodeHeader = "X-Ringstore-Node"

// MetadataHeader carries object metadata as a JSON object, on upload
// requests and download responses.
const MetadataHeader = "X-Metadata"

// DefaultMaxUploadBytes caps request bodies when Config leaves it unset.
const DefaultMaxUploadBytes = 64 << 20

// Router picks the node that owns a key. *ring.Ring implements it.
type Router interface {
	LookupLive(key string) (ring.Node, bool)
}

// Config configures a Server.
type Config struct {
	Store *store.Store
	// Ring may be nil, in which case this node owns every key.
	Ring Router
	// Metrics may be nil.
	Metrics *metrics.NodeMetrics
	// MetricsHandler is mounted on /metrics when set.
	MetricsHandler http.Handler
	// TraceHandler is mounted on /debug/trace when set.
	TraceHandler http.Handler
	NodeID       string
	// DefaultBucket serves the bucket-less upload and download routes.
	DefaultBucket  string
	MaxUploadBytes int64
}

// Server provides the HTTP interface of a ringstore node.
type Server struct {
	store          *store.Store
	ring           Router
	metrics        *metrics.NodeMetrics
	metricsHandler http.Handler
	traceHandler   http.Handler
	nodeID         string
	defaultBucket  string
	maxUploadBytes int64
}

// New creates a new server.
func New(cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{
		store:          cfg.Store,
		ring:           cfg.Ring,
		metrics:        cfg.Metrics,
		metricsHandler: cfg.MetricsHandler,
		traceHandler:   cfg.TraceHandler,
		nodeID:         cfg.NodeID,
		defaultBucket:  cfg.DefaultBucket,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/upload/{bucket}/{object}", s.handleUpload).Methods(http.MethodPost)
	r.Handle("/download/{bucket}/{name}/{mime}/{type}", gzhttp.GzipHandler(http.HandlerFunc(s.handleDownload))).
		Methods(http.MethodGet)
	if s.defaultBucket != "" {
		r.HandleFunc("/upload/{object}", s.handleUpload).Methods(http.MethodPost)
		r.Handle("/download/{name}/{mime}/{type}", gzhttp.GzipHandler(http.HandlerFunc(s.handleDownload))).
			Methods(http.MethodGet)
	}

	s.registerBucketHandlers(r)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler).Methods(http.MethodGet)
	}
	if s.traceHandler != nil {
		r.Handle("/debug/trace", s.traceHandler).Methods(http.MethodGet)
	}
	return r
}

// HTTPServer wraps Handler in an *http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// route resolves the owner of key and reports it in the response. It writes
// a 503 and returns false when no live node can take the key.
func (s *Server) route(w http.ResponseWriter, key string) bool {
	if s.ring == nil {
		w.Header().Set(NodeHeader, s.nodeID)
		s.metrics.RecordRoute(s.nodeID)
		return true
	}

	node, ok := s.ring.LookupLive(key)
	if !ok {
		s.metrics.RecordRoute("")
		s.jsonError(w, "no live node owns this key", http.StatusServiceUnavailable)
		return false
	}
	w.Header().Set(NodeHeader, node.ID)
	s.metrics.RecordRoute(node.ID)
	if node.ID != s.nodeID {
		log.Debug().Str("key", key).Str("owner", node.ID).Msg("Serving key owned by another node")
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "node": s.nodeID})
}

// statusFor maps a store error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Store operation failed")
	}
	s.jsonError(w, err.Error(), code)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder wraps http.ResponseWriter to capture the HTTP status code.
// Note: Not thread-safe. Must only be used within a single request handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
		r.ResponseWriter.WriteHeader(code)
	}
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(p)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
