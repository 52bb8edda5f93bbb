package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// ErrAlreadyRunning is returned when another supervisor holds the instance lock.
var ErrAlreadyRunning = errors.New("another supervisor instance is running")

// InstanceLock is an exclusive flock held for the supervisor's lifetime.
// Counter files are only safe with a single writer process.
type InstanceLock struct {
	path string
	file *os.File
}

// AcquireInstanceLock takes the lock at path without blocking.
// The holder's PID is written into the file for operators.
func AcquireInstanceLock(path string) (*InstanceLock, error) {
	lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lockFile.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, path)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if err := lockFile.Truncate(0); err == nil {
		_, _ = lockFile.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &InstanceLock{path: path, file: lockFile}, nil
}

// Path returns the lock file path.
func (l *InstanceLock) Path() string {
	return l.path
}

// Release drops the lock. The file is left in place.
func (l *InstanceLock) Release() error {
	if l.file == nil {
		return nil
	}
	defer func() { l.file = nil }()

	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	return l.file.Close()
}
