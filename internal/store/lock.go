package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
)

const lockFileName = ".writer.lock"

// ErrLocked is returned while another live process owns the directory.
var ErrLocked = errors.New("writer lock exists")

type lockOwner struct {
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started_at"`
}

// WriterLock guards a store directory against two processes appending to the
// same event logs.
type WriterLock struct {
	path string
	file *os.File
}

// AcquireWriterLock creates <root>/.writer.lock. A lock left by a process
// that no longer runs is taken over.
func AcquireWriterLock(root string) (*WriterLock, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	path := filepath.Join(root, lockFileName)
	for attempt := 0; attempt < 3; attempt++ {
		lock, err := createLock(path)
		if err == nil {
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		owner, err := readLockOwner(path)
		switch {
		case os.IsNotExist(err):
			continue
		case err != nil:
			return nil, fmt.Errorf("%w: %s (%v)", ErrLocked, path, err)
		case owner.PID <= 0:
			return nil, fmt.Errorf("%w: %s (owner unknown)", ErrLocked, path)
		case processAlive(owner.PID):
			return nil, fmt.Errorf("%w: %s (held by pid %d, %s since %s)", ErrLocked, path,
				owner.PID, owner.Command, owner.StartedAt.Format(time.RFC3339))
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLocked, path)
}

func createLock(path string) (*WriterLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(lockOwner{
		PID:       os.Getpid(),
		Command:   filepath.Base(os.Args[0]),
		StartedAt: time.Now().UTC(),
	})
	if err == nil {
		_, err = f.Write(append(body, '\n'))
	}
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return &WriterLock{path: path, file: f}, nil
}

// readLockOwner returns a zero owner for content it cannot parse.
func readLockOwner(path string) (lockOwner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lockOwner{}, err
	}
	var owner lockOwner
	if err := json.Unmarshal(data, &owner); err != nil {
		return lockOwner{}, nil
	}
	return owner, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	// EPERM: alive, owned by another user
	return err == nil || errors.Is(err, syscall.EPERM)
}

func (l *WriterLock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
