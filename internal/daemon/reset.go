package daemon

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/metrics"
)

// untilNextBoundary returns how long to sleep until the next multiple of
// interval since the Unix epoch. At an exact boundary it returns interval.
func untilNextBoundary(now time.Time, interval time.Duration) time.Duration {
	elapsed := time.Duration(now.UnixNano() % int64(interval))
	return interval - elapsed
}

// resetLoop runs the time tasks and reloads the child on every boundary.
func (s *Supervisor) resetLoop(ctx context.Context) error {
	for {
		wait := untilNextBoundary(s.clock(), s.config.ResetInterval)
		s.logger.Debug("next reset scheduled", zap.Duration("in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := s.tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// tick is one reset: time tasks, then reload, then a metrics flush.
func (s *Supervisor) tick(ctx context.Context) error {
	metrics.ResetTicks.Inc()
	if err := s.runTimeTasks(ctx); err != nil {
		return err
	}
	if err := s.reload(ctx); err != nil {
		return err
	}
	if s.runRegistry != nil {
		if err := s.runRegistry.UpdateTick(); err != nil {
			s.logger.Warn("failed to record tick", zap.Error(err))
		}
	}
	s.writeMetrics()
	return nil
}

func (s *Supervisor) runTimeTasks(ctx context.Context) error {
	for _, t := range s.registry.TimeTasks() {
		if err := t.OnTimer(ctx); err != nil {
			return fmt.Errorf("time task %s: %w", t.Name(), err)
		}
	}
	return nil
}

// reload asks the child to re-read its configuration. A reload command that
// runs but exits non-zero is logged and tolerated; one that cannot be run
// at all is returned.
func (s *Supervisor) reload(ctx context.Context) error {
	pid := s.childPID()
	if pid == 0 {
		s.logger.Debug("no child yet, skipping reload")
		return nil
	}

	err := s.reloader.Reload(ctx, pid)
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		metrics.Reloads.WithLabelValues("ok").Inc()
		s.logger.Info("child reloaded", zap.Int("pid", pid))
		return nil
	case errors.As(err, &exitErr):
		metrics.Reloads.WithLabelValues("failed").Inc()
		s.logger.Warn("reload command failed",
			zap.Int("pid", pid),
			zap.Int("exit_code", exitErr.ExitCode()),
			zap.Error(err))
		return nil
	default:
		metrics.Reloads.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to reload child %d: %w", pid, err)
	}
}
