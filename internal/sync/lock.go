package sync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// errLocked is returned by tryLock when another process holds the lock.
var errLocked = errors.New("lock held by another process")

// fileLock is an exclusive advisory lock on a file.
type fileLock struct {
	f *os.File
}

// tryLock acquires an exclusive lock on path without blocking. It returns
// errLocked on contention.
func tryLock(path string) (*fileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
