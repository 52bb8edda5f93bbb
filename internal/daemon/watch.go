package daemon

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/metrics"
)

// maxLineLength bounds one diagnostic line; nginx truncates its own at 2KB.
const maxLineLength = 1024 * 1024

// watch reads the child's diagnostic output line by line until EOF or until
// a check escalates to FatalExit.
func (s *Supervisor) watch(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(s.stderr, line)
		metrics.LinesObserved.Inc()

		result, err := s.checker.Check(line)
		if err != nil {
			return fmt.Errorf("failed to check line: %w", err)
		}

		switch result {
		case domain.Error:
			s.logger.Warn("error", zap.String("line", line))
		case domain.FatalExit:
			return s.killOnFatal(line)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("failed to read child output: %w", err)
	}
	s.logger.Debug("child output closed")
	return nil
}

// killOnFatal kills the child tree while the readiness gate is closed, so
// exit-wait cannot report before the kill is recorded.
func (s *Supervisor) killOnFatal(line string) error {
	s.ready.Clear()
	defer s.ready.Set()

	pid := s.childPID()
	if err := s.processManager.KillTree(pid); err != nil {
		return fmt.Errorf("failed to kill child %d: %w", pid, err)
	}
	s.killed.Store(true)
	metrics.ChildKills.Inc()

	s.logger.Error("error exit",
		zap.Int("pid", pid),
		zap.String("line", line))
	return nil
}
