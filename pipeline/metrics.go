package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus instruments.
type Metrics struct {
	stagesStarted   *prometheus.CounterVec
	stagesCompleted *prometheus.CounterVec
	stagesFailed    *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	classifications *prometheus.CounterVec
	chunkFailures   prometheus.Counter
}

// NewMetrics registers pipeline metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh
// registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		stagesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docdelta_stages_started_total",
			Help: "Stage executions started.",
		}, []string{"stage"}),
		stagesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docdelta_stages_completed_total",
			Help: "Stage executions completed successfully.",
		}, []string{"stage"}),
		stagesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docdelta_stages_failed_total",
			Help: "Stage executions that ended in failure.",
		}, []string{"stage"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docdelta_stage_duration_seconds",
			Help:    "Stage execution duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
		classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docdelta_chunk_classifications_total",
			Help: "Chunk classifications by change type.",
		}, []string{"type"}),
		chunkFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "docdelta_chunk_classification_failures_total",
			Help: "Chunks that could not be classified.",
		}),
	}
}
