package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
)

// RunStateFileName is created under BASE_PASS.
const RunStateFileName = ".proxymon.state"

// FileRunRegistry implements domain.RunRegistry using a JSON file.
type FileRunRegistry struct {
	path           string
	processManager domain.ProcessManager
}

// NewFileRunRegistry creates a run registry under baseDir.
func NewFileRunRegistry(baseDir string, pm domain.ProcessManager) domain.RunRegistry {
	return NewFileRunRegistryWithPath(filepath.Join(baseDir, RunStateFileName), pm)
}

// NewFileRunRegistryWithPath creates a registry at a specific path (for testing).
func NewFileRunRegistryWithPath(path string, pm domain.ProcessManager) *FileRunRegistry {
	return &FileRunRegistry{
		path:           path,
		processManager: pm,
	}
}

// Path returns the state file path.
func (r *FileRunRegistry) Path() string {
	return r.path
}

// Register replaces the published state with state.
func (r *FileRunRegistry) Register(state domain.RunState) error {
	return r.withLock(func() error {
		state.Version = 1
		if state.SupervisorPID == 0 {
			state.SupervisorPID = os.Getpid()
		}
		if state.StartedAt == 0 {
			state.StartedAt = time.Now().Unix()
		}
		return r.atomicWrite(&state)
	})
}

// UpdateTick stamps the last reset tick.
func (r *FileRunRegistry) UpdateTick() error {
	return r.withLock(func() error {
		state, err := r.Get()
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("no run state at %s", r.path)
		}
		state.LastTick = time.Now().Unix()
		return r.atomicWrite(state)
	})
}

// IsAlive checks the publishing supervisor's PID.
func (r *FileRunRegistry) IsAlive() (bool, error) {
	state, err := r.Get()
	if err != nil {
		return false, err
	}
	if state == nil || state.SupervisorPID == 0 {
		return false, nil
	}
	return r.processManager.IsRunning(state.SupervisorPID), nil
}

// Get returns the published state, or nil when there is none.
func (r *FileRunRegistry) Get() (*domain.RunState, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var state domain.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse run state %s: %w", r.path, err)
	}
	return &state, nil
}

// Clear removes the state file. A missing file is not an error.
func (r *FileRunRegistry) Clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// withLock serialises writers through a sibling lock file.
func (r *FileRunRegistry) withLock(fn func() error) error {
	lockFile, err := os.OpenFile(r.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	return fn()
}

func (r *FileRunRegistry) atomicWrite(state *domain.RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return atomicWriteFile(r.path, data, 0644)
}

// Ensure FileRunRegistry implements domain.RunRegistry.
var _ domain.RunRegistry = (*FileRunRegistry)(nil)
