package daemon

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/infra"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/task"
)

// recordingProcessManager implements domain.ProcessManager.
// It records calls and forwards them to the real implementation when real is set.
type recordingProcessManager struct {
	mu        sync.Mutex
	real      domain.ProcessManager
	killTrees []int
	signals   map[int][]int
	killErr   error
}

func newRecordingProcessManager(real bool) *recordingProcessManager {
	m := &recordingProcessManager{signals: make(map[int][]int)}
	if real {
		m.real = infra.NewProcessManager()
	}
	return m
}

func (m *recordingProcessManager) KillTree(pid int) error {
	m.mu.Lock()
	m.killTrees = append(m.killTrees, pid)
	m.mu.Unlock()
	if m.killErr != nil {
		return m.killErr
	}
	if m.real != nil {
		return m.real.KillTree(pid)
	}
	return nil
}

func (m *recordingProcessManager) Signal(pid int, sig int) error {
	m.mu.Lock()
	m.signals[pid] = append(m.signals[pid], sig)
	m.mu.Unlock()
	if m.real != nil {
		return m.real.Signal(pid, sig)
	}
	return nil
}

func (m *recordingProcessManager) IsRunning(pid int) bool {
	if m.real != nil {
		return m.real.IsRunning(pid)
	}
	return false
}

var _ domain.ProcessManager = (*recordingProcessManager)(nil)

func (m *recordingProcessManager) KillTreeCalls() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.killTrees...)
}

// mockReloader implements domain.Reloader for testing
type mockReloader struct {
	mu   sync.Mutex
	pids []int
	err  error
}

func (m *mockReloader) Reload(ctx context.Context, pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pids = append(m.pids, pid)
	return m.err
}

func (m *mockReloader) Calls() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.pids...)
}

// scriptedCheckTask implements domain.Checkable.
// It returns results in order for lines containing match, Normal otherwise.
type scriptedCheckTask struct {
	mu      sync.Mutex
	name    string
	match   string
	results []domain.CheckResult
	err     error
	seen    []string
}

func (s *scriptedCheckTask) Name() string { return s.name }

func (s *scriptedCheckTask) DoCheck(line string) (domain.CheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, line)
	if s.err != nil {
		return domain.Normal, s.err
	}
	if s.match == "" || !strings.Contains(line, s.match) || len(s.results) == 0 {
		return domain.Normal, nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r, nil
}

func (s *scriptedCheckTask) Seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

// countingTimeTask implements domain.Timed and domain.Setupable.
type countingTimeTask struct {
	mu       sync.Mutex
	name     string
	setups   int
	ticks    int
	setupErr error
	tickErr  error
}

func (c *countingTimeTask) Name() string { return c.name }

func (c *countingTimeTask) Setup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setups++
	return c.setupErr
}

func (c *countingTimeTask) OnTimer(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return c.tickErr
}

func (c *countingTimeTask) Counts() (setups, ticks int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setups, c.ticks
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// newTestSupervisor builds a supervisor over tasks with captured output.
func newTestSupervisor(t *testing.T, cfg SupervisorConfig, pm domain.ProcessManager, reloader domain.Reloader, tasks ...domain.Task) (*Supervisor, *syncBuffer) {
	t.Helper()
	reg, err := task.NewRegistryWithTasks(tasks...)
	require.NoError(t, err)

	if cfg.InputSocket == "" {
		dir := t.TempDir()
		cfg.InputSocket = dir + "/in/nginx.sock"
		cfg.OutputSocket = dir + "/out/nginx.sock"
	}
	stderr := &syncBuffer{}
	s := NewSupervisor(cfg, reg, pm, infra.NewFileSystemManager(), reloader, zap.NewNop()).
		WithOutput(&syncBuffer{}, stderr)
	return s, stderr
}
