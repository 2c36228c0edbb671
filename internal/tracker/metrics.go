package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.MustRegister(
		SubmissionsTotal,
		PollErrorsTotal,
		TerminalTasksTotal,
		ActiveTasksGauge,
		TaskDurationHistogram,
	)
}

const (
	// MetricsNamespace defines the namespace of all geoexport metrics.
	MetricsNamespace = "geoexport"
	// Component is the subsystem of the tracker metrics.
	Component = "tracker"

	// ResultLabel is the outcome of one submission attempt.
	ResultLabel = "result"
	// StateLabel is the terminal state of a task.
	StateLabel = "state"
)

// SubmissionsTotal counts submission attempts.
// [result].
var SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: MetricsNamespace,
	Subsystem: Component,
	Name:      "submissions_total",
	Help:      "Number of export submission attempts by result.",
}, []string{ResultLabel})

// PollErrorsTotal counts failed status queries.
var PollErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: MetricsNamespace,
	Subsystem: Component,
	Name:      "poll_errors_total",
	Help:      "Number of failed task status queries.",
})

// TerminalTasksTotal counts tasks by the terminal state they reached.
// [state].
var TerminalTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: MetricsNamespace,
	Subsystem: Component,
	Name:      "terminal_tasks_total",
	Help:      "Number of tasks that reached a terminal state.",
}, []string{StateLabel})

// ActiveTasksGauge is the number of tasks not yet terminal.
var ActiveTasksGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: MetricsNamespace,
	Subsystem: Component,
	Name:      "active_tasks",
	Help:      "Number of submitted tasks that are not terminal yet.",
})

// TaskDurationHistogram tracks time from submission to terminal state.
var TaskDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: MetricsNamespace,
	Subsystem: Component,
	Name:      "task_duration_seconds",
	Help:      "Time from submission to terminal state.",
	Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
})
