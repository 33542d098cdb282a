package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"exchange-core/internal/logger"
)

// StreamStatus is one subscription's health as persisted in the runtime status.
type StreamStatus struct {
	ID            string    `json:"id"`
	Topic         string    `json:"topic"`
	State         string    `json:"state"`
	Reconnects    int       `json:"reconnects"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
}

type RuntimeStatus struct {
	Exchange    string         `json:"exchange"`
	Symbols     []string       `json:"symbols"`
	PID         int            `json:"pid"`
	State       string         `json:"state"`
	StartedAt   time.Time      `json:"started_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Weight      int            `json:"weight"`
	WeightLimit int            `json:"weight_limit"`
	Degraded    []string       `json:"degraded,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	Streams     []StreamStatus `json:"streams,omitempty"`
	Summary     string         `json:"summary,omitempty"`
}

// Store owns a directory of runtime artefacts: the status file and per-kind,
// per-day JSONL event logs.
type Store struct {
	root string
	log  *logger.Entry

	mu      sync.Mutex
	writers map[string]*dateWriter
}

func New(root string, log *logger.Log) (*Store, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		root:    root,
		log:     logger.OrNop(log).WithComponent("store"),
		writers: make(map[string]*dateWriter),
	}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) SaveRuntimeStatus(status RuntimeStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSONAtomic(s.runtimeStatusPath(), status)
}

func (s *Store) LoadRuntimeStatus() (RuntimeStatus, bool, error) {
	data, err := os.ReadFile(s.runtimeStatusPath())
	if err != nil {
		if os.IsNotExist(err) {
			return RuntimeStatus{}, false, nil
		}
		return RuntimeStatus{}, false, err
	}
	var status RuntimeStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return RuntimeStatus{}, false, err
	}
	return status, true, nil
}

// AppendEvent appends v as one JSON line to <root>/<kind>/<YYYY-MM-DD>.jsonl,
// using at's UTC date.
func (s *Store) AppendEvent(kind string, at time.Time, v any) error {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return errors.New("event kind required")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.writers[kind]
	if !ok {
		w, err = newDateWriter(filepath.Join(s.root, kind))
		if err != nil {
			return err
		}
		s.writers[kind] = w
	}
	return w.write(at.UTC().Format("2006-01-02"), line)
}

// Close flushes and closes every open event log.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for kind, w := range s.writers {
		if err := w.close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.writers, kind)
	}
	return errors.Join(errs...)
}

func (s *Store) runtimeStatusPath() string {
	return filepath.Join(s.root, "runtime_status.json")
}

func (s *Store) writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(data, '\n'), 0o644, s.log)
}

type dateWriter struct {
	root        string
	currentDate string
	currentFile *os.File
}

func newDateWriter(root string) (*dateWriter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &dateWriter{root: root}, nil
}

func (w *dateWriter) write(date string, line []byte) error {
	if err := w.rotate(date); err != nil {
		return err
	}
	_, err := w.currentFile.Write(append(line, '\n'))
	return err
}

func (w *dateWriter) rotate(date string) error {
	if date == w.currentDate && w.currentFile != nil {
		return nil
	}
	if err := w.close(); err != nil {
		return err
	}
	path := filepath.Join(w.root, date+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.currentFile = f
	w.currentDate = date
	return nil
}

func (w *dateWriter) close() error {
	if w == nil || w.currentFile == nil {
		return nil
	}
	f := w.currentFile
	w.currentFile = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
