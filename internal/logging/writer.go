package logging

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// maxLine bounds how much of an unterminated line is buffered before it is
// emitted anyway.
const maxLine = 64 * 1024

// LineWriter relays a child process stream into a logger, one record per
// line. It is safe for concurrent use.
type LineWriter struct {
	logger *slog.Logger
	stream string

	mu  sync.Mutex
	buf []byte
}

// NewLineWriter creates a writer logging lines at info level with a stream
// attribute ("stdout" or "stderr").
func NewLineWriter(logger *slog.Logger, stream string) *LineWriter {
	return &LineWriter{logger: logger, stream: stream}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) >= maxLine {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// Flush emits a trailing partial line, if any.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
}

func (w *LineWriter) emit(line []byte) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	w.logger.LogAttrs(context.Background(), slog.LevelInfo, string(line), slog.String(StreamKey, w.stream))
}
