// Package metrics exposes Prometheus instrumentation for the core:
// metric vectors registered in init() and updated directly by callers,
// covering cycles, entries, exits, equity, and overlap/rollback failures.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "statarb_cycles_total", Help: "Pair cycles run, by outcome status."},
		[]string{"pair", "status"},
	)

	EntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "statarb_entries_total", Help: "Entries opened, by direction."},
		[]string{"pair", "direction"},
	)

	ExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "statarb_exits_total", Help: "Exits closed, by reason."},
		[]string{"pair", "reason"},
	)

	CurrentEquity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "statarb_current_equity_usd", Help: "Per-pair current_equity."},
		[]string{"pair"},
	)

	CycleSkippedOverlap = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "statarb_cycle_skipped_overlap_total", Help: "Cycles skipped because the previous cycle was still running."},
		[]string{"pair"},
	)

	RollbackFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "statarb_rollback_failures_total", Help: "Leg rollback cancellations that themselves failed."},
		[]string{"pair", "stage"},
	)

	SchedulerJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "statarb_scheduler_jobs", Help: "Number of jobs currently registered with the scheduler."},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal, EntriesTotal, ExitsTotal, CurrentEquity,
		CycleSkippedOverlap, RollbackFailures, SchedulerJobs,
	)
}
