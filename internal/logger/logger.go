// Package logger holds the process-wide zerolog logger used by the test
// rule, the CLI and the sample application.
package logger

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance
var Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().
	Timestamp().
	Logger()

// Init initializes the global logger at the given level ("debug", "info",
// "warn", "error"). Unknown levels fall back to info.
func Init(level string) {
	InitWithWriter(level, zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    false,
	})
}

// InitWithWriter initializes the global logger writing to w.
func InitWithWriter(level string, w io.Writer) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	Log = zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// Debug logs a debug message
func Debug() *zerolog.Event { return Log.Debug() }

// Info logs an info message
func Info() *zerolog.Event { return Log.Info() }

// Warn logs a warning message
func Warn() *zerolog.Event { return Log.Warn() }

// Error logs an error message
func Error() *zerolog.Event { return Log.Error() }

// WithField returns a sub-logger carrying key=value on every entry.
func WithField(key string, value any) zerolog.Logger {
	return Log.With().Interface(key, value).Logger()
}

// LineWriter forwards a byte stream to the global logger, one info entry
// per line, each tagged with prefix. It is the sink used for container
// output.
type LineWriter struct {
	prefix string

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLineWriter returns a LineWriter tagging lines with prefix.
func NewLineWriter(prefix string) *LineWriter {
	return &LineWriter{prefix: prefix}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// partial line, keep it for the next write
			rest := append([]byte(nil), line...)
			w.buf.Reset()
			w.buf.Write(rest)
			break
		}
		w.emit(line)
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
}

func (w *LineWriter) emit(line []byte) {
	text := strings.TrimRight(string(line), "\r\n")
	if text == "" {
		return
	}
	Log.Info().Str("source", w.prefix).Msg(text)
}
