package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/rfq-portal/internal/observability"
)

// Metrics exposes Prometheus collectors for background jobs. Run counts go
// through the shared portal metrics so alerts see API and worker alike.
type Metrics struct {
	portal   *observability.Metrics
	duration *prometheus.HistogramVec
	affected *prometheus.CounterVec
}

// NewMetrics registers the job collectors on the portal registry. A nil
// portal yields a tracker that only measures time.
func NewMetrics(portal *observability.Metrics) *Metrics {
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})
	affected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_job_affected_total",
		Help: "Entities changed by background jobs.",
	}, []string{"task"})
	if portal != nil {
		portal.Registerer().MustRegister(duration, affected)
	}
	return &Metrics{portal: portal, duration: duration, affected: affected}
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	task    string
	start   time.Time
}

// Track spawns a tracker for the given task type.
func (m *Metrics) Track(task string) *Tracker {
	return &Tracker{metrics: m, task: task, start: time.Now()}
}

// End finalises the tracker, recording duration and outcome and returning
// the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.task == "" {
		return err
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	t.metrics.portal.ObserveJob(t.task, status)
	t.metrics.duration.WithLabelValues(t.task).Observe(time.Since(t.start).Seconds())
	return err
}

// AddAffected counts entities a job run changed.
func (m *Metrics) AddAffected(task string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.affected.WithLabelValues(task).Add(float64(count))
}
