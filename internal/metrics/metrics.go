package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
)

var (
	// LinesObserved counts child diagnostic lines read by the log-watch loop.
	LinesObserved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proxymon_lines_observed_total",
			Help: "Total number of child diagnostic lines inspected",
		},
	)

	// CheckResults counts per-task check outcomes other than normal.
	CheckResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxymon_check_results_total",
			Help: "Total number of failed checks by task and result",
		},
		[]string{"task", "result"},
	)

	// FailureCount mirrors each check-task's persisted failure count.
	FailureCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxymon_failure_count",
			Help: "Current persisted failure count of a check task",
		},
		[]string{"task"},
	)

	// Cooldown is 1 while a check-task is parked at its maximum.
	Cooldown = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxymon_task_cooldown",
			Help: "Whether a check task has entered terminal cooldown (1) or not (0)",
		},
		[]string{"task"},
	)

	// ChildKills counts forced terminations of the supervised child.
	ChildKills = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proxymon_child_kills_total",
			Help: "Total number of times the supervised child was killed after a fatal check",
		},
	)

	// ResetTicks counts completed periodic reset ticks.
	ResetTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proxymon_reset_ticks_total",
			Help: "Total number of periodic reset ticks",
		},
	)

	// Reloads counts child reload attempts by outcome.
	Reloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxymon_reloads_total",
			Help: "Total number of child configuration reloads by outcome",
		},
		[]string{"outcome"},
	)

	// WorkerFaults counts failures propagated by worker goroutines.
	WorkerFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxymon_worker_faults_total",
			Help: "Total number of worker faults by worker name",
		},
		[]string{"worker"},
	)

	// AllowListPrefixes is the number of CIDR lines in the last allow-list.
	AllowListPrefixes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proxymon_allowlist_prefixes",
			Help: "Number of CIDR prefixes written by the last allow-list rebuild",
		},
	)
)

// RecordCheck records a non-normal check outcome for a task.
func RecordCheck(task string, result domain.CheckResult, count int) {
	if result == domain.Normal {
		return
	}
	CheckResults.WithLabelValues(task, result.String()).Inc()
	FailureCount.WithLabelValues(task).Set(float64(count))
}

// RecordReset records the counter state of a task after a reset tick.
func RecordReset(task string, count int, cooldown bool) {
	FailureCount.WithLabelValues(task).Set(float64(count))
	if cooldown {
		Cooldown.WithLabelValues(task).Set(1)
	} else {
		Cooldown.WithLabelValues(task).Set(0)
	}
}

// WriteTextfile writes every registered collector to path in the Prometheus
// text format. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
