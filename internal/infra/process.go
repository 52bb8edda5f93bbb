// Package infra implements infrastructure concerns (process, filesystem, counters).
package infra

import (
	"errors"
	"os"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// KillTree kills every descendant of pid (deepest first), then pid.
// nginx workers are children of the master; killing only the master would
// leave them serving with a dead supervisor.
func (pm *ProcessManagerImpl) KillTree(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		if isGone(err) {
			return nil
		}
		return err
	}

	var errs []error
	if children, err := p.Children(); err == nil {
		for _, child := range children {
			if err := pm.KillTree(int(child.Pid)); err != nil && !isGone(err) {
				errs = append(errs, err)
			}
		}
	}

	if err := p.Kill(); err != nil && !isGone(err) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Signal delivers sig to pid.
func (pm *ProcessManagerImpl) Signal(pid int, sig int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.SendSignal(syscall.Signal(sig))
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	// On Unix, FindProcess always succeeds
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Send signal 0 to check if process exists
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// isGone reports whether err means the process already exited.
func isGone(err error) bool {
	return errors.Is(err, process.ErrorProcessNotRunning) ||
		errors.Is(err, syscall.ESRCH) ||
		errors.Is(err, os.ErrProcessDone)
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
