// Package audit is the append-only JSON-lines event log.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one decoded audit line.
type Event map[string]any

// Log appends events to a file, one JSON object per line.
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New opens (creating the directory for) an audit log at path.
func New(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &Log{path: path, now: time.Now}, nil
}

func (l *Log) Path() string { return l.path }

// Append writes {ts, event, ...fields}. Keys are emitted in sorted order.
func (l *Log) Append(event string, fields map[string]any) error {
	entry := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		entry[k] = v
	}
	entry["ts"] = l.now().UTC().Format(time.RFC3339Nano)
	entry["event"] = event

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// Tail returns the last n events, oldest first. Malformed lines are skipped.
func (l *Log) Tail(n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	ring := make([]Event, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if len(ring) == n {
			ring = append(ring[1:], ev)
		} else {
			ring = append(ring, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return ring, fmt.Errorf("scan audit log: %w", err)
	}
	return ring, nil
}
