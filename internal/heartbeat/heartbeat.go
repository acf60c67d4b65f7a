// Package heartbeat records that a taskvox gateway is serving, so that
// other commands can find it without asking it over the network.
package heartbeat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultInterval is how often a running gateway refreshes its record.
const DefaultInterval = 30 * time.Second

// Status represents the liveness state of the gateway.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

// Record is the content of the heartbeat file.
type Record struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StorePath string    `json:"store_path"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// Uptime returns how long the gateway had been running at the last refresh.
func (r *Record) Uptime() time.Duration {
	return r.Timestamp.Sub(r.StartedAt).Truncate(time.Second)
}

// Path returns the heartbeat file location under a data directory.
func Path(dataDir string) string {
	return filepath.Join(dataDir, "heartbeat.json")
}

// Writer refreshes the heartbeat file on an interval until stopped.
type Writer struct {
	path     string
	interval time.Duration
	record   Record

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewWriter creates a writer for the gateway listening on addr.
func NewWriter(path, addr, storePath string) *Writer {
	return &Writer{
		path:     path,
		interval: DefaultInterval,
		record:   Record{PID: os.Getpid(), Addr: addr, StorePath: storePath},
	}
}

// Start writes the first record immediately, then refreshes it in the
// background. It is a no-op if already running.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return nil
	}

	w.record.StartedAt = time.Now()
	if err := w.write(); err != nil {
		return err
	}

	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(w.stop, w.done)
	return nil
}

func (w *Writer) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			_ = w.write()
			w.mu.Unlock()
		case <-stop:
			return
		}
	}
}

// Stop ends the refresh loop and removes the heartbeat file.
func (w *Writer) Stop() {
	w.mu.Lock()
	stop, done := w.stop, w.done
	w.stop = nil
	w.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	os.Remove(w.path)
}

// write must be called with w.mu held.
func (w *Writer) write() error {
	w.record.Timestamp = time.Now()
	data, err := json.MarshalIndent(w.record, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("heartbeat dir: %w", err)
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return os.Rename(tmp, w.path)
}

// Check reads the heartbeat file. A record older than maxAge is stale; a
// missing file means no gateway is running.
func Check(path string, maxAge time.Duration) (Status, *Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return StatusDead, nil, nil
	}
	if err != nil {
		return StatusDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return StatusDead, nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}
	if time.Since(rec.Timestamp) > maxAge {
		return StatusStale, &rec, nil
	}
	return StatusAlive, &rec, nil
}
