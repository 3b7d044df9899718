// Package metrics provides the Prometheus collectors exposed by the
// monitoring interface (spec §6): phase durations, row counts, retry
// behaviour and rate-limiter waits.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clinical_warehouse_etl"

// PipelineMetrics tracks the Extractor/Loader/Scheduler phases of a run.
type PipelineMetrics struct {
	PhaseDuration   *prometheus.HistogramVec
	RowsProcessed   *prometheus.CounterVec
	TablesCompleted *prometheus.CounterVec
	RateLimiterWait *prometheus.HistogramVec
}

var (
	pipelineMetricsInstance *PipelineMetrics
	pipelineMetricsOnce     sync.Once
)

// NewPipelineMetrics returns the process-wide PipelineMetrics singleton,
// registering it with the default Prometheus registry on first call.
func NewPipelineMetrics() *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetricsInstance = &PipelineMetrics{
			PhaseDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Subsystem: "pipeline",
					Name:      "phase_duration_seconds",
					Help:      "Duration of an extract or load phase for one table.",
					Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
				},
				[]string{"phase", "table", "strategy"},
			),
			RowsProcessed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "pipeline",
					Name:      "rows_processed_total",
					Help:      "Rows copied or loaded, by phase and table.",
				},
				[]string{"phase", "table"},
			),
			TablesCompleted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "pipeline",
					Name:      "tables_completed_total",
					Help:      "Tables finished per category and outcome.",
				},
				[]string{"category", "outcome"},
			),
			RateLimiterWait: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Subsystem: "pipeline",
					Name:      "rate_limiter_wait_seconds",
					Help:      "Time spent blocked on the SOURCE-side rate limiter.",
					Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
				},
				[]string{"table"},
			),
		}
	})
	return pipelineMetricsInstance
}

// RecordPhase records the duration of one extract/load phase.
func (m *PipelineMetrics) RecordPhase(phase, table, strategy string, seconds float64) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase, table, strategy).Observe(seconds)
}

// AddRows increments the row counter for a phase/table.
func (m *PipelineMetrics) AddRows(phase, table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsProcessed.WithLabelValues(phase, table).Add(float64(n))
}

// RecordTableOutcome increments the per-category completion counter.
func (m *PipelineMetrics) RecordTableOutcome(category, outcome string) {
	if m == nil {
		return
	}
	m.TablesCompleted.WithLabelValues(category, outcome).Inc()
}

// RecordRateLimiterWait records time spent waiting on the rate limiter.
func (m *PipelineMetrics) RecordRateLimiterWait(table string, seconds float64) {
	if m == nil {
		return
	}
	m.RateLimiterWait.WithLabelValues(table).Observe(seconds)
}
