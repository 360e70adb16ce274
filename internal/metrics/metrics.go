// Package metrics defines the Prometheus collectors for the extraction
// pipeline. Collectors work unregistered, so tests and embedders can run
// without a registry; Register attaches them to one.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ModelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credex",
			Name:      "model_calls_total",
			Help:      "Total model invocations by outcome",
		},
		[]string{"operation", "outcome"}, // outcome: success / rate_limited / validation_failed / error
	)

	ModelCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "credex",
			Name:      "model_call_duration_seconds",
			Help:      "Model invocation duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	ChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credex",
			Name:      "chunks_total",
			Help:      "Chunks processed by status",
		},
		[]string{"status"}, // extracted / dropped
	)

	FusionConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credex",
			Name:      "fusion_conflicts_total",
			Help:      "Cross-source conflicts by resolution method",
		},
		[]string{"method"}, // deterministic / model_based / unresolved
	)

	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credex",
			Name:      "pipeline_runs_total",
			Help:      "Whole-document pipeline runs by result",
		},
		[]string{"result"}, // ok / failed
	)
)

// Register registers all pipeline collectors with reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		ModelCallsTotal,
		ModelCallDuration,
		ChunksTotal,
		FusionConflictsTotal,
		PipelineRunsTotal,
	)
}

// IncCounter increments a counter vec if it is non-nil.
func IncCounter(c *prometheus.CounterVec, labels ...string) {
	if c != nil {
		c.WithLabelValues(labels...).Inc()
	}
}
