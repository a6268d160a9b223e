// Package metrics holds the Prometheus collectors shared by the harvester stages.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics bundles Prometheus collectors for a harvester process.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	ErrorsTotal     *prometheus.CounterVec
	BlocksTotal     prometheus.Counter
	RejectedTotal   *prometheus.CounterVec
	AcceptedTotal   prometheus.Counter
	SessionsTotal   *prometheus.CounterVec
	PersistedTotal  prometheus.Counter
	StageRetries    *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_requests_total",
			Help: "Total page fetches issued by the harvester.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_request_duration_seconds",
			Help:    "HTTP latency of page fetches.",
			Buckets: prometheus.DefBuckets,
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_fetch_errors_total",
			Help: "Total fetch errors by type.",
		},
		[]string{"error_type"},
	)
	blocks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_result_blocks_total",
			Help: "Total result blocks located on fetched pages.",
		},
	)
	rejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_records_rejected_total",
			Help: "Result blocks or records dropped, by reason.",
		},
		[]string{"reason"},
	)
	accepted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_records_accepted_total",
			Help: "Records accepted into harvest sessions.",
		},
	)
	sessions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_sessions_total",
			Help: "Finished harvest sessions by terminal state.",
		},
		[]string{"state"},
	)
	persisted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_rows_upserted_total",
			Help: "Rows inserted or updated in the books table.",
		},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_stage_retries_total",
			Help: "Stage retries scheduled by the pipeline runner.",
		},
		[]string{"stage"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_stage_duration_seconds",
			Help:    "Wall time of pipeline stages.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"stage", "status"},
	)

	registry.MustRegister(requests, requestDuration, errorsTotal, blocks, rejected, accepted, sessions, persisted, retries, stageDuration)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		ErrorsTotal:     errorsTotal,
		BlocksTotal:     blocks,
		RejectedTotal:   rejected,
		AcceptedTotal:   accepted,
		SessionsTotal:   sessions,
		PersistedTotal:  persisted,
		StageRetries:    retries,
		StageDuration:   stageDuration,
	}
}

// IncRequest increments the requests counter.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records a fetch duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// AddBlocks counts result blocks found on a page.
func (m *Metrics) AddBlocks(n int) {
	if m == nil {
		return
	}
	m.BlocksTotal.Add(float64(n))
}

// IncRejected counts a dropped block or record.
func (m *Metrics) IncRejected(reason string) {
	if m == nil {
		return
	}
	m.RejectedTotal.WithLabelValues(reason).Inc()
}

// IncAccepted counts a record accepted into a session.
func (m *Metrics) IncAccepted() {
	if m == nil {
		return
	}
	m.AcceptedTotal.Inc()
}

// IncSession counts a finished session.
func (m *Metrics) IncSession(state string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(state).Inc()
}

// AddPersisted counts upserted rows.
func (m *Metrics) AddPersisted(n int) {
	if m == nil {
		return
	}
	m.PersistedTotal.Add(float64(n))
}

// IncStageRetry counts a stage retry.
func (m *Metrics) IncStageRetry(stage string) {
	if m == nil {
		return
	}
	m.StageRetries.WithLabelValues(stage).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// Push sends the registry to a Prometheus Pushgateway. An empty url is a no-op.
func (m *Metrics) Push(url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.Registry).Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
