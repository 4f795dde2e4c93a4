package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const captureLimit = 64 << 20 // cap the in-memory capture at 64 MiB

// captureBuffer records every log line emitted during the process lifetime
// so a diagnostic snapshot can be written out after a failure, the way the
// operator expects a post-mortem log file next to the downloads.
type captureBuffer struct {
	mu  sync.Mutex
	buf []byte
}

var globalCapture = &captureBuffer{}

func (c *captureBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf)+len(p) <= captureLimit {
		c.buf = append(c.buf, p...)
	}
	return len(p), nil
}

func (c *captureBuffer) snapshot() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.buf))
	copy(out, c.buf)
	return out
}

// SaveCapture writes the captured log to dir as <name>_<timestamp>.log and
// returns the file path.
func SaveCapture(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create capture directory: %w", err)
	}
	file := filepath.Join(dir, fmt.Sprintf("%s_%s.log", name, time.Now().Format("06-01-02_150405")))
	if err := os.WriteFile(file, globalCapture.snapshot(), 0644); err != nil {
		return "", fmt.Errorf("failed to write capture file: %w", err)
	}
	return file, nil
}
