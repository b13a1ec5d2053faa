//go:build windows

package storage

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

type writerLock struct {
	handle windows.Handle
	path   string
}

func acquireWriterLock(dbPath string) (*writerLock, error) {
	lockPath := dbPath + ".lock"

	lockPathPtr, err := syscall.UTF16PtrFromString(lockPath)
	if err != nil {
		return nil, fmt.Errorf("convert lock path: %w", err)
	}

	handle, err := windows.CreateFile(
		lockPathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, // exclusive, no sharing
		nil,
		windows.CREATE_ALWAYS,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("another process holds the writer lock on %s: %w", dbPath, err)
	}

	pidStr := fmt.Sprintf("%d", os.Getpid())
	var written uint32
	windows.WriteFile(handle, []byte(pidStr), &written, nil)

	return &writerLock{handle: handle, path: lockPath}, nil
}

func (l *writerLock) Release() {
	if l == nil || l.handle == 0 {
		return
	}
	windows.CloseHandle(l.handle)
	os.Remove(l.path)
}
