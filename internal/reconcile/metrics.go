package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/simple-geoexport/internal/tracker"
)

func init() {
	prometheus.MustRegister(
		OutcomesTotal,
		BytesTotal,
		ListedArtifactsGauge,
	)
}

// Component is the subsystem of the reconciler metrics.
const Component = "reconcile"

// OutcomesTotal counts reconciliation outcomes.
// [kind].
var OutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: tracker.MetricsNamespace,
	Subsystem: Component,
	Name:      "outcomes_total",
	Help:      "Number of reconciled jobs by outcome kind.",
}, []string{"kind"})

// BytesTotal counts bytes written to local storage.
var BytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: tracker.MetricsNamespace,
	Subsystem: Component,
	Name:      "bytes_total",
	Help:      "Bytes of artifacts written to local storage.",
})

// ListedArtifactsGauge is the size of the last export container listing.
var ListedArtifactsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: tracker.MetricsNamespace,
	Subsystem: Component,
	Name:      "listed_artifacts",
	Help:      "Number of artifacts found in the last export container listing.",
})
