package pipeline

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrWorkspaceLocked means another process holds the workspace run lock.
var ErrWorkspaceLocked = errors.New("workspace is locked by another parley run")

// WorkspaceLock keeps two processes from running the same workspace at once.
type WorkspaceLock struct {
	path string
	lock *flock.Flock
}

// LockWorkspace acquires the lock file at path without blocking.
func LockWorkspace(path string) (*WorkspaceLock, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrWorkspaceLocked, path)
	}
	return &WorkspaceLock{path: path, lock: lock}, nil
}

// Path returns the lock file location.
func (l *WorkspaceLock) Path() string {
	return l.path
}

// Unlock releases the lock.
func (l *WorkspaceLock) Unlock() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
