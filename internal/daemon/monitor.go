package daemon

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/metrics"
)

// WorkerFault records why a supervised worker stopped.
type WorkerFault struct {
	Worker string
	Err    error
	Panic  bool
	Stack  string
}

func (f *WorkerFault) Error() string {
	if f.Panic {
		return fmt.Sprintf("worker %s panicked: %v", f.Worker, f.Err)
	}
	return fmt.Sprintf("worker %s failed: %v", f.Worker, f.Err)
}

func (f *WorkerFault) Unwrap() error {
	return f.Err
}

// Monitor runs named worker goroutines and collects their failures.
// Every error or panic is recorded; the first one is signalled on Done.
type Monitor struct {
	logger *zap.Logger
	group  errgroup.Group

	mu     sync.Mutex
	faults []*WorkerFault

	done     chan struct{}
	doneOnce sync.Once
}

// NewMonitor creates an empty monitor.
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Go starts fn as a worker named name.
func (m *Monitor) Go(name string, fn func() error) {
	m.group.Go(func() error {
		fault := m.run(name, fn)
		if fault != nil {
			m.report(fault)
			return fault
		}
		m.logger.Debug("worker exited", zap.String("worker", name))
		return nil
	})
}

func (m *Monitor) run(name string, fn func() error) (fault *WorkerFault) {
	defer func() {
		if r := recover(); r != nil {
			fault = &WorkerFault{
				Worker: name,
				Err:    fmt.Errorf("%v", r),
				Panic:  true,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	if err := fn(); err != nil {
		return &WorkerFault{Worker: name, Err: err}
	}
	return nil
}

func (m *Monitor) report(fault *WorkerFault) {
	m.mu.Lock()
	m.faults = append(m.faults, fault)
	m.mu.Unlock()

	metrics.WorkerFaults.WithLabelValues(fault.Worker).Inc()
	if fault.Panic {
		m.logger.Error("worker panicked",
			zap.String("worker", fault.Worker),
			zap.Error(fault.Err),
			zap.String("stack", fault.Stack))
	} else {
		m.logger.Error("worker failed",
			zap.String("worker", fault.Worker),
			zap.Error(fault.Err))
	}

	m.doneOnce.Do(func() { close(m.done) })
}

// Done is closed when the first fault is recorded.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until the first fault and returns it, or returns ctx.Err().
func (m *Monitor) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return m.FirstFault()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FirstFault returns the earliest recorded fault, or nil.
func (m *Monitor) FirstFault() *WorkerFault {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.faults) == 0 {
		return nil
	}
	return m.faults[0]
}

// Faults returns every recorded fault in report order.
func (m *Monitor) Faults() []*WorkerFault {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*WorkerFault(nil), m.faults...)
}

// Join waits for every worker to return.
func (m *Monitor) Join() error {
	return m.group.Wait()
}
