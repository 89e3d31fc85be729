// Package tracing keeps a rolling runtime trace of the node in memory so a
// snapshot can be pulled over HTTP after something slow has already happened.
package tracing

import (
	"errors"
	"io"
	"net/http"
	"runtime/trace"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultBufferSize is the trace ring buffer size used when none is given.
const DefaultBufferSize = 10 << 20

// ErrNotEnabled is returned by Snapshot on a nil or stopped Recorder.
var ErrNotEnabled = errors.New("tracing not enabled")

// Recorder wraps a runtime flight recorder. Only one may run per process.
type Recorder struct {
	mu sync.Mutex
	fr *trace.FlightRecorder
}

// Start begins recording into a ring buffer of bufferSize bytes holding at
// least the last 30 seconds.
func Start(bufferSize int64) (*Recorder, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   30 * time.Second,
		MaxBytes: uint64(bufferSize),
	})
	if err := fr.Start(); err != nil {
		return nil, err
	}
	log.Debug().Int64("buffer_bytes", bufferSize).Msg("Runtime tracing started")
	return &Recorder{fr: fr}, nil
}

// Enabled reports whether r is recording.
func (r *Recorder) Enabled() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fr != nil
}

// Snapshot writes the buffered trace to w in the format read by go tool trace.
func (r *Recorder) Snapshot(w io.Writer) error {
	if r == nil {
		return ErrNotEnabled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr == nil {
		return ErrNotEnabled
	}
	_, err := r.fr.WriteTo(w)
	return err
}

// Stop ends recording. Calling it more than once is a no-op.
func (r *Recorder) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr != nil {
		r.fr.Stop()
		r.fr = nil
	}
}

// Handler serves a snapshot as a trace.out attachment, or 503 when r is not
// recording.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !r.Enabled() {
			http.Error(w, "tracing not enabled", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", "attachment; filename=trace.out")
		if err := r.Snapshot(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
