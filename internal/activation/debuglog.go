package activation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DebugLog appends debug reports to a plain text file so users can
// send them along with a support request.
type DebugLog struct {
	mu   sync.Mutex
	path string
}

func NewDebugLog(path string) *DebugLog {
	return &DebugLog{path: path}
}

func (d *DebugLog) Path() string {
	return d.path
}

// Append writes report with every line prefixed by its timestamp.
// Device ids are masked.
func (d *DebugLog) Append(report Report) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("failed to create debug log directory: %w", err)
	}
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open debug log: %w", err)
	}
	defer f.Close()

	stamp := report.GeneratedAt.UTC().Format(time.RFC3339)
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(report.Masked().String(), "\n"), "\n") {
		fmt.Fprintf(&b, "%s: %s\n", stamp, line)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to write debug log: %w", err)
	}
	return nil
}

// Clear truncates the debug log.
func (d *DebugLog) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear debug log: %w", err)
	}
	return nil
}
