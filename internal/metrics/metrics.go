// Package metrics exposes Prometheus collectors for the job manager.
package metrics

import (
	"time"

	"github.com/iago/json2excel-back/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "json2excel"

// Metrics implements service.MetricsRecorder on top of Prometheus.
type Metrics struct {
	jobsCreated   prometheus.Counter
	jobsRejected  prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobsCancelled prometheus.Counter
	jobsTimedOut  prometheus.Counter
	jobDuration   *prometheus.HistogramVec
	queueDepth    prometheus.Gauge
	activeJobs    prometheus.Gauge
}

// New builds the collectors and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		jobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_created_total",
			Help:      "Conversion jobs accepted into the queue.",
		}),
		jobsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Conversion jobs rejected because the queue was full.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs finished by the worker, by final status.",
		}, []string{"status"}),
		jobsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_cancelled_total",
			Help:      "Jobs cancelled by users.",
		}),
		jobsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_timed_out_total",
			Help:      "Jobs failed by the timeout sweep.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from processing start to final status.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting in the queue.",
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Jobs currently being processed.",
		}),
	}

	for _, collector := range []prometheus.Collector{
		m.jobsCreated,
		m.jobsRejected,
		m.jobsFinished,
		m.jobsCancelled,
		m.jobsTimedOut,
		m.jobDuration,
		m.queueDepth,
		m.activeJobs,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) JobCreated() {
	m.jobsCreated.Inc()
}

func (m *Metrics) JobRejected() {
	m.jobsRejected.Inc()
}

func (m *Metrics) JobFinished(status domain.StatusValue, duration time.Duration) {
	m.jobsFinished.WithLabelValues(string(status)).Inc()
	m.jobDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

func (m *Metrics) JobCancelled() {
	m.jobsCancelled.Inc()
}

func (m *Metrics) JobTimedOut() {
	m.jobsTimedOut.Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) SetActiveJobs(count int) {
	m.activeJobs.Set(float64(count))
}
