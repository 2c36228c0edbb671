package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/simple-geoexport/internal/tracker"
)

func init() {
	prometheus.MustRegister(
		BatchesTotal,
		JobsTotal,
		BatchDurationHistogram,
	)
}

const Component = "batch"

// BatchesTotal counts finished batches.
// [status].
var BatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: tracker.MetricsNamespace,
	Subsystem: Component,
	Name:      "runs_total",
	Help:      "Number of batch runs by final status.",
}, []string{"status"})

// JobsTotal counts report entries.
// [kind].
var JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: tracker.MetricsNamespace,
	Subsystem: Component,
	Name:      "jobs_total",
	Help:      "Number of matrix cells by terminal outcome.",
}, []string{"kind"})

var BatchDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: tracker.MetricsNamespace,
	Subsystem: Component,
	Name:      "duration_seconds",
	Help:      "Wall time of a batch run.",
	Buckets:   []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
})
