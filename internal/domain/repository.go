package domain

import "context"

// Task is anything that can be registered with a supervisor.
// Name identifies the registration slot; registering a second task with the
// same name replaces the first.
type Task interface {
	Name() string
}

// Setupable tasks run once at startup, before the child process is launched.
type Setupable interface {
	Task
	Setup(ctx context.Context) error
}

// Timed tasks run once per scheduling tick (the hourly boundary).
type Timed interface {
	Task
	OnTimer(ctx context.Context) error
}

// Checkable tasks validate every line of the child's diagnostic output.
type Checkable interface {
	Task
	DoCheck(line string) (CheckResult, error)
}

// Rule is the pluggable predicate behind a check-task.
// Implementations only decide whether a line is a failure; counting,
// persistence and thresholds are handled by the task that wraps them.
type Rule interface {
	// Name returns the rule name. It is also the counter file stem.
	Name() string

	// Evaluate returns true when the line is a failure.
	Evaluate(line string) bool
}

// Counter is a crash-surviving failure counter.
// Implementation: text file holding one decimal integer, written atomically.
type Counter interface {
	// Load re-syncs the in-memory count from disk.
	Load() error

	// Increment loads, adds one and persists. Returns the new count.
	Increment() (int, error)

	// Reset zeroes and persists the count unless it has reached max.
	// Returns true when the count is at or above max (cooldown).
	Reset(max int) (bool, error)

	// Value returns the in-memory count.
	Value() int

	// Path returns the backing file path.
	Path() string
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// KillTree terminates all descendants of pid, then pid itself.
	KillTree(pid int) error

	// Signal delivers sig to pid.
	Signal(pid int, sig int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool
}

// FileSystemManager handles filesystem operations.
type FileSystemManager interface {
	// Exists checks if a path exists.
	Exists(path string) bool

	// Delete removes a file or directory recursively.
	Delete(path string) error

	// EnsureDir creates a directory and its parents if missing.
	EnsureDir(path string) error

	// EnsureParent creates the parent directory of path if missing.
	EnsureParent(path string) error
}

// Reloader asks the running child to reload its configuration without
// restarting it.
type Reloader interface {
	Reload(ctx context.Context, pid int) error
}

// AllowListBuilder rebuilds the allowed-country CIDR file.
// Rebuild must be idempotent and must leave the previous file untouched on
// failure.
type AllowListBuilder interface {
	Rebuild(ctx context.Context) (*AllowListResult, error)
	Path() string
}

// LineChecker runs every check-task against one line and aggregates the
// outcome (FatalExit > Error > Normal).
type LineChecker interface {
	Check(line string) (CheckResult, error)
}

// RunRegistry publishes the supervisor's RunState for the status command.
// Implementation: JSON file next to the counter files.
type RunRegistry interface {
	// Register records a freshly launched child.
	Register(state RunState) error

	// UpdateTick records the time of the last reset tick.
	UpdateTick() error

	// Get returns the published state, or nil if none exists.
	Get() (*RunState, error)

	// IsAlive reports whether the publishing supervisor is still running.
	IsAlive() (bool, error)

	// Clear removes the published state.
	Clear() error
}
