// Package usecase contains application business logic.
package usecase

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
)

// LineCheckerImpl implements domain.LineChecker.
type LineCheckerImpl struct {
	tasks  []domain.Checkable
	logger *zap.Logger
}

// NewLineChecker creates a checker over tasks, evaluated in the given order.
func NewLineChecker(tasks []domain.Checkable, logger *zap.Logger) domain.LineChecker {
	return &LineCheckerImpl{
		tasks:  tasks,
		logger: logger,
	}
}

// Check runs every check-task against line.
// FatalExit stops evaluation immediately; Error wins over Normal.
func (c *LineCheckerImpl) Check(line string) (domain.CheckResult, error) {
	result := domain.Normal

	for _, t := range c.tasks {
		r, err := t.DoCheck(line)
		if err != nil {
			return result, fmt.Errorf("check task %s: %w", t.Name(), err)
		}

		switch r {
		case domain.FatalExit:
			c.logger.Warn("check reached failure threshold", zap.String("task", t.Name()))
			return domain.FatalExit, nil
		case domain.Error:
			c.logger.Info("check failed", zap.String("task", t.Name()))
		}
		if r.Dominates(result) {
			result = r
		}
	}

	return result, nil
}

// Ensure LineCheckerImpl implements domain.LineChecker.
var _ domain.LineChecker = (*LineCheckerImpl)(nil)
