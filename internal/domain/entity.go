// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// CheckResult is the outcome of validating one line of child output.
type CheckResult int

const (
	// Normal means the line did not match any rule.
	Normal CheckResult = iota
	// Error means a rule matched but its failure count is below the threshold.
	Error
	// FatalExit means a rule matched and its failure count reached the threshold.
	// The supervised child must be killed.
	FatalExit
)

// String returns the lower-case name used in logs and metric labels.
func (r CheckResult) String() string {
	switch r {
	case Normal:
		return "normal"
	case Error:
		return "error"
	case FatalExit:
		return "fatal_exit"
	default:
		return "unknown"
	}
}

// Dominates reports whether r outranks other (FatalExit > Error > Normal).
func (r CheckResult) Dominates(other CheckResult) bool {
	return r > other
}

// ChildExit describes how the supervised child process terminated.
type ChildExit struct {
	PID      int
	ExitCode int
	Killed   bool // true when the log-watch loop killed the child
	Err      error
	ExitedAt time.Time
}

// CounterStatus is a read-only snapshot of a check-task's persisted count.
type CounterStatus struct {
	Task     string
	Path     string
	Count    int
	Max      int
	Cooldown bool // Count has reached Max; the task will not reset until restart
	Exists   bool // false when no counter file has been written yet
}

// AllowListResult summarises one allow-list rebuild.
type AllowListResult struct {
	Path        string
	Records     int // registry records that matched an allowed country
	Prefixes    int // CIDR lines written
	Countries   []string
	CompletedAt time.Time
}

// RunState is what a running supervisor publishes about itself.
type RunState struct {
	Version       int      `json:"version"`
	RunID         string   `json:"run_id"`
	SupervisorPID int      `json:"supervisor_pid"`
	ChildPID      int      `json:"child_pid"`
	Command       []string `json:"command"`
	Tasks         []string `json:"tasks"`
	StartedAt     int64    `json:"started_at"`
	LastTick      int64    `json:"last_tick,omitempty"`
}
