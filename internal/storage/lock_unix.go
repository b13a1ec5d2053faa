//go:build !windows

// Package storage's Unix writer lock. Adapted from the teacher's
// Windows-only internal/instance exclusive-create lock into a portable
// flock(2)-based advisory lock guarding the database file.
package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type writerLock struct {
	f *os.File
}

func acquireWriterLock(dbPath string) (*writerLock, error) {
	lockPath := dbPath + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another process holds the writer lock on %s: %w", dbPath, err)
	}

	fmt.Fprintf(f, "%d", os.Getpid())
	return &writerLock{f: f}, nil
}

func (l *writerLock) Release() {
	if l == nil || l.f == nil {
		return
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.f.Close()
}
