// Package task implements the check-task wrapper and the ordered task registry.
package task

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/infra"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/metrics"
)

// DefaultMaxCount is the failure count at which a check returns FatalExit.
const DefaultMaxCount = 100

// CheckTask turns a Rule into a check-task: every matching line bumps a
// persistent counter, and the periodic tick resets it.
//
// Once the counter is found at or above MaxCount during a tick the task enters
// cooldown and never resets again in this process, so a client that keeps
// failing stays blocked across ticks.
type CheckTask struct {
	rule     domain.Rule
	counter  domain.Counter
	maxCount int
	cooldown atomic.Bool
	logger   *zap.Logger
}

// NewCheckTask creates a check-task whose counter lives at {baseDir}/{rule}.txt.
func NewCheckTask(rule domain.Rule, baseDir string, maxCount int, logger *zap.Logger) (*CheckTask, error) {
	counter, err := infra.NewFileCounter(baseDir, rule.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to create counter for %s: %w", rule.Name(), err)
	}
	return NewCheckTaskWithCounter(rule, counter, maxCount, logger), nil
}

// NewCheckTaskWithCounter creates a check-task around an existing counter (for testing).
func NewCheckTaskWithCounter(rule domain.Rule, counter domain.Counter, maxCount int, logger *zap.Logger) *CheckTask {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	return &CheckTask{
		rule:     rule,
		counter:  counter,
		maxCount: maxCount,
		logger:   logger.With(zap.String("task", rule.Name())),
	}
}

// Name returns the rule name.
func (t *CheckTask) Name() string {
	return t.rule.Name()
}

// Setup does nothing; check-tasks have no startup work.
func (t *CheckTask) Setup(ctx context.Context) error {
	return nil
}

// DoCheck evaluates one line.
func (t *CheckTask) DoCheck(line string) (domain.CheckResult, error) {
	if !t.rule.Evaluate(line) {
		return domain.Normal, nil
	}

	count, err := t.counter.Increment()
	if err != nil {
		return domain.Normal, fmt.Errorf("failed to count failure for %s: %w", t.Name(), err)
	}

	result := domain.Error
	if count >= t.maxCount {
		result = domain.FatalExit
	}
	metrics.RecordCheck(t.Name(), result, count)
	t.logger.Debug("check matched",
		zap.Int("count", count),
		zap.Int("max", t.maxCount),
		zap.Stringer("result", result))
	return result, nil
}

// OnTimer resets the counter, or enters cooldown when it is at the maximum.
func (t *CheckTask) OnTimer(ctx context.Context) error {
	if t.cooldown.Load() {
		t.logger.Debug("task in cooldown, skipping reset")
		return nil
	}

	cooled, err := t.counter.Reset(t.maxCount)
	if err != nil {
		return fmt.Errorf("failed to reset counter for %s: %w", t.Name(), err)
	}
	if cooled {
		t.cooldown.Store(true)
		t.logger.Warn("failure count at maximum, task entered cooldown",
			zap.Int("count", t.counter.Value()),
			zap.Int("max", t.maxCount))
	}
	metrics.RecordReset(t.Name(), t.counter.Value(), cooled)
	return nil
}

// Cooldown reports whether the task has stopped resetting.
func (t *CheckTask) Cooldown() bool {
	return t.cooldown.Load()
}

// Count returns the current failure count.
func (t *CheckTask) Count() int {
	return t.counter.Value()
}

// MaxCount returns the FatalExit threshold.
func (t *CheckTask) MaxCount() int {
	return t.maxCount
}

// ReadStatus reports the persisted count of a rule without loading (and so
// without advancing) its counter.
func ReadStatus(baseDir string, rule domain.Rule, maxCount int) (domain.CounterStatus, error) {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	path := infra.CounterPath(baseDir, rule.Name())
	status := domain.CounterStatus{Task: rule.Name(), Path: path, Max: maxCount}

	count, ok, err := infra.ReadCounterFile(path)
	if err != nil {
		return status, err
	}
	status.Exists = ok
	status.Count = count
	status.Cooldown = ok && count >= maxCount
	return status, nil
}

// Ensure CheckTask implements every task capability.
var (
	_ domain.Setupable = (*CheckTask)(nil)
	_ domain.Timed     = (*CheckTask)(nil)
	_ domain.Checkable = (*CheckTask)(nil)
)
