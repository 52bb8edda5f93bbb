package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
)

// ErrCounterCorrupt is returned when a counter file does not hold a decimal integer.
var ErrCounterCorrupt = errors.New("counter file is not a decimal integer")

// FileCounter implements domain.Counter using a text file holding one decimal
// integer.
//
// Loading always advances past a value written by someone else (typically a
// previous supervisor instance that crashed), so restarting the supervisor
// can never bring a failure tally back down. Values this instance wrote or
// already observed are not counted twice.
type FileCounter struct {
	mu sync.Mutex

	path  string
	count int

	observed    int
	hasObserved bool
}

// NewFileCounter creates the counter for name under dir ({dir}/{name}.txt),
// creating dir if needed, and loads any persisted value.
func NewFileCounter(dir, name string) (*FileCounter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create counter directory: %w", err)
	}
	return NewFileCounterWithPath(filepath.Join(dir, name+".txt"))
}

// NewFileCounterWithPath creates a counter backed by a specific file.
func NewFileCounterWithPath(path string) (*FileCounter, error) {
	c := &FileCounter{path: path}
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

// CounterPath returns the backing file path for name under dir.
func CounterPath(dir, name string) string {
	return filepath.Join(dir, name+".txt")
}

// Path returns the backing file path.
func (c *FileCounter) Path() string {
	return c.path
}

// Value returns the in-memory count.
func (c *FileCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Load re-syncs the count from disk.
func (c *FileCounter) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load()
}

// Increment loads, adds one and persists, as one critical section.
func (c *FileCounter) Increment() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.load(); err != nil {
		return c.count, err
	}
	c.count++
	if err := c.save(); err != nil {
		return c.count, err
	}
	return c.count, nil
}

// Reset zeroes and persists the count, unless it is already at or above max.
func (c *FileCounter) Reset(max int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.load(); err != nil {
		return false, err
	}
	if c.count >= max {
		return true, nil
	}
	c.count = 0
	return false, c.save()
}

// Save persists the in-memory count.
func (c *FileCounter) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save()
}

// load must be called with mu held.
func (c *FileCounter) load() error {
	persisted, ok, err := ReadCounterFile(c.path)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if c.hasObserved && persisted == c.observed {
		return nil
	}

	c.count = max(c.count, persisted) + 1
	c.observed = persisted
	c.hasObserved = true
	return nil
}

// save must be called with mu held.
func (c *FileCounter) save() error {
	if err := atomicWriteFile(c.path, []byte(strconv.Itoa(c.count)), 0644); err != nil {
		return fmt.Errorf("failed to save counter %s: %w", c.path, err)
	}
	c.observed = c.count
	c.hasObserved = true
	return nil
}

// ReadCounterFile reads a counter file without touching any in-memory state.
// ok is false when the file does not exist.
func ReadCounterFile(path string) (value int, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}

	value, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s", ErrCounterCorrupt, path)
	}
	return value, true, nil
}

// atomicWriteFile writes data to a temp file next to path and renames it over path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	// Unique per process to avoid racing another writer's temp file
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileCounter implements domain.Counter.
var _ domain.Counter = (*FileCounter)(nil)
