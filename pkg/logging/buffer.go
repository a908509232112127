package logging

import (
	"strings"
	"sync"
)

const captureSize = 64

// LogCaptureWriter is a thread-safe writer that keeps the most recent log lines.
type LogCaptureWriter struct {
	mu    sync.RWMutex
	lines []string
	next  int
	full  bool
}

// GlobalLogCapture receives every INFO+ line of the server logger.
var GlobalLogCapture = NewLogCaptureWriter()

// NewLogCaptureWriter returns an empty capture buffer.
func NewLogCaptureWriter() *LogCaptureWriter {
	return &LogCaptureWriter{lines: make([]string, captureSize)}
}

// Write implements io.Writer. Each call is stored as one line.
func (w *LogCaptureWriter) Write(p []byte) (n int, err error) {
	line := strings.TrimRight(string(p), "\n")
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines[w.next] = line
	w.next = (w.next + 1) % len(w.lines)
	if w.next == 0 {
		w.full = true
	}
	return len(p), nil
}

// GetLastLine returns the most recent log line.
func (w *LogCaptureWriter) GetLastLine() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.full && w.next == 0 {
		return ""
	}
	return w.lines[(w.next-1+len(w.lines))%len(w.lines)]
}

// Tail returns up to n recent lines, oldest first.
func (w *LogCaptureWriter) Tail(n int) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	size := w.next
	if w.full {
		size = len(w.lines)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]string, 0, n)
	for i := n; i > 0; i-- {
		out = append(out, w.lines[(w.next-i+len(w.lines))%len(w.lines)])
	}
	return out
}
