// Package journal provides the append-only, line-oriented operation log kept
// per bucket and per cache. Each entry is one line:
//
//	[2006-01-02 15:04:05] <message>
package journal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// TimeLayout is the timestamp layout of every journal line.
const TimeLayout = "2006-01-02 15:04:05"

// Sink receives one line per mutating operation.
type Sink interface {
	Logf(format string, args ...any)
	Close() error
}

// Journal writes timestamped lines through a zerolog console writer.
type Journal struct {
	logger zerolog.Logger
	closer io.Closer
	now    func() time.Time
}

// New creates a journal writing to w. If w is also an io.Closer it is closed
// by Close.
func New(w io.Writer) *Journal {
	cw := zerolog.ConsoleWriter{
		Out:        zerolog.SyncWriter(w),
		NoColor:    true,
		PartsOrder: []string{zerolog.TimestampFieldName, zerolog.MessageFieldName},
		FormatTimestamp: func(i interface{}) string {
			return fmt.Sprintf("[%v]", i)
		},
	}
	j := &Journal{
		logger: zerolog.New(cw),
		now:    time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		j.closer = c
	}
	return j
}

// Open opens (creating if needed) the journal file at path in append mode.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return New(f), nil
}

// Logf appends one formatted line.
func (j *Journal) Logf(format string, args ...any) {
	j.logger.Log().
		Str(zerolog.TimestampFieldName, j.now().Format(TimeLayout)).
		Msgf(format, args...)
}

// Close closes the underlying writer if it is closable.
func (j *Journal) Close() error {
	if j.closer == nil {
		return nil
	}
	return j.closer.Close()
}

type nopSink struct{}

func (nopSink) Logf(string, ...any) {}
func (nopSink) Close() error        { return nil }

// Nop returns a sink that discards everything.
func Nop() Sink { return nopSink{} }

// Dir opens journals as files inside a directory. The empty Dir hands out
// Nop sinks.
type Dir string

// Open returns the journal named name (a ".log" suffix is added).
func (d Dir) Open(name string) (Sink, error) {
	if d == "" {
		return Nop(), nil
	}
	return Open(filepath.Join(string(d), name+".log"))
}
