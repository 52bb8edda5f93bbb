package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/metrics"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/task"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/usecase"
)

// ExitFault is the exit code reported when a worker fails or startup aborts.
const ExitFault = 125

// ExitKilled is reported whenever log-watch killed the child, even if the
// child had already exited on its own by the time the kill was issued.
const ExitKilled = 128 + int(syscall.SIGKILL)

const (
	workerLogWatch = "log-watch"
	workerExitWait = "exit-wait"
	workerReset    = "reset"
)

// SupervisorConfig holds supervisor settings.
type SupervisorConfig struct {
	Command       []string      // Child command line
	InputSocket   string        // Socket nginx reads from; removed if stale
	OutputSocket  string        // Socket nginx writes to; its directory is created
	ResetInterval time.Duration // Tick period, aligned to wall-clock boundaries
	MetricsFile   string        // Prometheus textfile, empty to disable
	DrainTimeout  time.Duration // How long shutdown waits for workers to return
}

// DefaultSupervisorConfig returns default supervisor configuration.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		ResetInterval: time.Hour,
		DrainTimeout:  5 * time.Second,
	}
}

// Supervisor runs one child process under the registered tasks.
type Supervisor struct {
	config         SupervisorConfig
	registry       *task.Registry
	checker        domain.LineChecker
	processManager domain.ProcessManager
	fsManager      domain.FileSystemManager
	reloader       domain.Reloader
	runRegistry    domain.RunRegistry
	logger         *zap.Logger
	runID          string

	stdout io.Writer // child stdout passthrough
	stderr io.Writer // echo target for child stderr lines
	clock  func() time.Time

	ready   *gate
	monitor *Monitor

	mu     sync.Mutex
	child  *Child
	killed atomic.Bool
	exited atomic.Bool
}

// NewSupervisor creates a supervisor. Every log entry carries a fresh run_id.
func NewSupervisor(
	config SupervisorConfig,
	registry *task.Registry,
	pm domain.ProcessManager,
	fs domain.FileSystemManager,
	reloader domain.Reloader,
	logger *zap.Logger,
) *Supervisor {
	if config.ResetInterval <= 0 {
		config.ResetInterval = time.Hour
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 5 * time.Second
	}
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	return &Supervisor{
		config:         config,
		registry:       registry,
		checker:        usecase.NewLineChecker(registry.CheckTasks(), logger),
		processManager: pm,
		fsManager:      fs,
		reloader:       reloader,
		logger:         logger,
		runID:          runID,
		stdout:         os.Stdout,
		stderr:         os.Stderr,
		clock:          time.Now,
		ready:          newGate(),
		monitor:        NewMonitor(logger),
	}
}

// WithOutput redirects child stdout and the stderr echo (for testing).
func (s *Supervisor) WithOutput(stdout, stderr io.Writer) *Supervisor {
	s.stdout = stdout
	s.stderr = stderr
	return s
}

// WithRunRegistry publishes the run state through r.
func (s *Supervisor) WithRunRegistry(r domain.RunRegistry) *Supervisor {
	s.runRegistry = r
	return s
}

// RunID returns the identifier attached to every log entry of this run.
func (s *Supervisor) RunID() string {
	return s.runID
}

// Monitor returns the worker monitor.
func (s *Supervisor) Monitor() *Monitor {
	return s.monitor
}

// Run prepares the environment, launches the child and blocks until the
// child exits or a worker fails. It returns the exit code for the process.
//
// Cancelling ctx forwards SIGTERM to the child; Run still returns once the
// child has exited.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	if err := PrepareSockets(s.fsManager, s.config.InputSocket, s.config.OutputSocket); err != nil {
		return ExitFault, err
	}
	if err := s.startup(ctx); err != nil {
		return ExitFault, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	s.monitor.Go(workerReset, func() error {
		return s.resetLoop(runCtx)
	})

	child, err := StartChild(s.config.Command, s.stdout)
	if err != nil {
		cancel()
		s.drain()
		return ExitFault, err
	}
	s.setChild(child)
	s.logger.Info("child started",
		zap.Int("pid", child.PID()),
		zap.Strings("command", s.config.Command),
		zap.Strings("tasks", s.registry.Names()))
	s.publish(child)

	exits := make(chan domain.ChildExit, 1)
	watchDone := make(chan struct{})
	s.monitor.Go(workerLogWatch, func() error {
		if err := s.watch(child.Output()); err != nil {
			return err
		}
		close(watchDone)
		return nil
	})
	s.monitor.Go(workerExitWait, func() error {
		return s.waitExit(runCtx, child, watchDone, exits)
	})

	stopping := ctx.Done()
	for {
		select {
		case <-s.monitor.Done():
			fault := s.monitor.FirstFault()
			s.logger.Error("supervisor stopping after worker fault", zap.Error(fault))
			s.shutdown(cancel)
			return ExitFault, fault

		case exit := <-exits:
			s.logger.Info("child exited",
				zap.Int("pid", exit.PID),
				zap.Int("exit_code", exit.ExitCode),
				zap.Bool("killed", exit.Killed))
			s.shutdown(cancel)
			return exit.ExitCode, exit.Err

		case <-stopping:
			stopping = nil
			s.logger.Info("stop requested, terminating child", zap.Int("pid", child.PID()))
			if err := s.processManager.Signal(child.PID(), int(syscall.SIGTERM)); err != nil {
				s.logger.Warn("failed to signal child", zap.Error(err))
			}
		}
	}
}

// startup runs every setup task, then every time task once, before the
// child exists.
func (s *Supervisor) startup(ctx context.Context) error {
	for _, t := range s.registry.SetupTasks() {
		if err := t.Setup(ctx); err != nil {
			return fmt.Errorf("setup task %s: %w", t.Name(), err)
		}
	}
	return s.runTimeTasks(ctx)
}

// waitExit waits for the child, then for log-watch to act on the child's
// last lines, then for the readiness gate, and reports the exit.
// watchDone is only closed when log-watch finishes cleanly; on a log-watch
// fault the monitor drives shutdown and ctx ends the wait.
func (s *Supervisor) waitExit(ctx context.Context, child *Child, watchDone <-chan struct{}, exits chan<- domain.ChildExit) error {
	exit := child.Wait()
	s.exited.Store(true)

	if err := s.awaitWatch(ctx, child, watchDone); err != nil {
		return nil
	}
	if err := s.ready.Wait(ctx); err != nil {
		return nil
	}
	exit.Killed = s.killed.Load()
	if exit.Killed {
		exit.ExitCode = ExitKilled
	}
	exits <- exit
	return nil
}

// awaitWatch waits for log-watch to reach EOF. A descendant that outlives
// the child can hold the pipe open, so after DrainTimeout the read end is
// closed to end the loop.
func (s *Supervisor) awaitWatch(ctx context.Context, child *Child, watchDone <-chan struct{}) error {
	timer := time.NewTimer(s.config.DrainTimeout)
	defer timer.Stop()

	select {
	case <-watchDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	s.logger.Warn("child exited but its output is still open, closing it", zap.Int("pid", child.PID()))
	child.Output().Close()

	select {
	case <-watchDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown stops the workers, kills the child if it is still alive and
// flushes metrics.
func (s *Supervisor) shutdown(cancel context.CancelFunc) {
	cancel()

	if child := s.currentChild(); child != nil && !s.exited.Load() {
		if err := s.processManager.KillTree(child.PID()); err != nil {
			s.logger.Warn("failed to kill child", zap.Int("pid", child.PID()), zap.Error(err))
		}
	}

	s.drain()
	s.writeMetrics()

	if s.runRegistry != nil {
		if err := s.runRegistry.Clear(); err != nil {
			s.logger.Warn("failed to clear run state", zap.Error(err))
		}
	}
}

func (s *Supervisor) publish(child *Child) {
	if s.runRegistry == nil {
		return
	}
	err := s.runRegistry.Register(domain.RunState{
		RunID:     s.runID,
		ChildPID:  child.PID(),
		Command:   s.config.Command,
		Tasks:     s.registry.Names(),
		StartedAt: child.startedAt.Unix(),
	})
	if err != nil {
		s.logger.Warn("failed to publish run state", zap.Error(err))
	}
}

// drain waits for the workers, closing the child's output if log-watch is
// still blocked on it after DrainTimeout.
func (s *Supervisor) drain() {
	done := make(chan struct{})
	go func() {
		s.monitor.Join()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.config.DrainTimeout):
		s.logger.Warn("workers still running, closing child output")
		if child := s.currentChild(); child != nil {
			child.Output().Close()
		}
		select {
		case <-done:
		case <-time.After(s.config.DrainTimeout):
			s.logger.Error("workers did not stop")
		}
	}

	if child := s.currentChild(); child != nil {
		child.Output().Close()
	}
}

func (s *Supervisor) writeMetrics() {
	if err := metrics.WriteTextfile(s.config.MetricsFile); err != nil {
		s.logger.Warn("failed to write metrics", zap.String("path", s.config.MetricsFile), zap.Error(err))
	}
}

func (s *Supervisor) setChild(c *Child) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.child = c
}

func (s *Supervisor) currentChild() *Child {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child
}

// childPID returns 0 before the child is launched.
func (s *Supervisor) childPID() int {
	if c := s.currentChild(); c != nil {
		return c.PID()
	}
	return 0
}
