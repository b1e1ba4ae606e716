package normalizer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// WAL is the raw-inbox write-ahead log: every payload is recorded here
// before normalization, so a crash between pop and journal append still
// leaves a forensic trail of what arrived.
type WAL struct {
	mu   sync.Mutex
	path string
}

// OpenWAL opens (creating if absent) the append-only log at path.
func OpenWAL(path string) (*WAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("open inbox wal: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open inbox wal: %w", err)
	}
	f.Close()
	return &WAL{path: path}, nil
}

// Append records one raw payload with its observation timestamp.
func (w *WAL) Append(raw string, observedAt time.Time) error {
	line, err := json.Marshal(struct {
		Timestamp time.Time `json:"timestamp"`
		Payload   string    `json:"payload"`
	}{Timestamp: observedAt, Payload: raw})
	if err != nil {
		return fmt.Errorf("inbox wal marshal: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("inbox wal append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("inbox wal write: %w", err)
	}
	return f.Sync()
}
