// Package daemon implements the process supervisor: it launches the proxy
// child, watches its diagnostic output and runs the periodic reset loop.
package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
)

// ErrNoCommand is returned when the child command is empty.
var ErrNoCommand = errors.New("child command is empty")

// PrepareSockets removes a stale input socket (or creates its directory) and
// creates the output socket directory.
func PrepareSockets(fs domain.FileSystemManager, inputSocket, outputSocket string) error {
	if fs.Exists(inputSocket) {
		if err := fs.Delete(inputSocket); err != nil {
			return fmt.Errorf("failed to remove stale socket %s: %w", inputSocket, err)
		}
	} else if err := fs.EnsureParent(inputSocket); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", inputSocket, err)
	}

	if err := fs.EnsureParent(outputSocket); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", outputSocket, err)
	}
	return nil
}

// Child is a launched child process whose stderr is readable through Output.
type Child struct {
	cmd       *exec.Cmd
	output    *os.File
	pid       int
	startedAt time.Time
}

// StartChild launches command with stdout passed to stdout and stderr
// redirected to a pipe.
func StartChild(command []string, stdout io.Writer) (*Child, error) {
	if len(command) == 0 {
		return nil, ErrNoCommand
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("failed to start %s: %w", command[0], err)
	}

	// The child holds its own copy; EOF arrives once it and its descendants exit.
	w.Close()

	return &Child{
		cmd:       cmd,
		output:    r,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
	}, nil
}

// PID returns the child's process id.
func (c *Child) PID() int {
	return c.pid
}

// Output returns the read end of the child's stderr.
func (c *Child) Output() *os.File {
	return c.output
}

// Wait blocks until the child exits.
func (c *Child) Wait() domain.ChildExit {
	err := c.cmd.Wait()
	exit := domain.ChildExit{
		PID:      c.pid,
		ExitCode: exitCode(c.cmd.ProcessState),
		ExitedAt: time.Now(),
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		exit.Err = err
	}
	return exit
}

// exitCode maps a process state to a shell-style exit code (128+signal when
// the process was killed by a signal).
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
