package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
)

// ReloadBySignal as the whole reload command means "send SIGHUP to the child"
// instead of running a separate control process.
const ReloadBySignal = "signal"

const reloadTimeout = 30 * time.Second

// ErrNoReloadCommand is returned when the reloader has nothing to run.
var ErrNoReloadCommand = errors.New("reload command is empty")

// CommandReloader implements domain.Reloader by running a short-lived control
// process (nginx -s reload) or by signalling the child directly.
type CommandReloader struct {
	command        []string
	processManager domain.ProcessManager
	stdout         io.Writer
	stderr         io.Writer
	timeout        time.Duration
}

// NewReloader creates a reloader. Output of the control process is passed
// through to the supervisor's own stdout/stderr.
func NewReloader(command []string, pm domain.ProcessManager) *CommandReloader {
	return &CommandReloader{
		command:        command,
		processManager: pm,
		stdout:         os.Stdout,
		stderr:         os.Stderr,
		timeout:        reloadTimeout,
	}
}

// NewReloaderWithOutput creates a reloader writing control-process output to
// the given writers (for testing).
func NewReloaderWithOutput(command []string, pm domain.ProcessManager, stdout, stderr io.Writer) *CommandReloader {
	r := NewReloader(command, pm)
	r.stdout = stdout
	r.stderr = stderr
	return r
}

// Reload asks the child with the given pid to reload its configuration.
func (r *CommandReloader) Reload(ctx context.Context, pid int) error {
	if len(r.command) == 0 {
		return ErrNoReloadCommand
	}

	if len(r.command) == 1 && r.command[0] == ReloadBySignal {
		if err := r.processManager.Signal(pid, int(syscall.SIGHUP)); err != nil {
			return fmt.Errorf("failed to signal child %d: %w", pid, err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Stdin = nil // Prevent any interactive prompts
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("reload command %q failed: %w", r.command[0], err)
	}
	return nil
}

// Ensure CommandReloader implements domain.Reloader.
var _ domain.Reloader = (*CommandReloader)(nil)
