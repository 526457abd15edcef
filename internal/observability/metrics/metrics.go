// Package metrics exposes prometheus instruments for the sweep scheduler.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SweepMetrics captures scheduler health signals.
type SweepMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	sweepItems  *prometheus.CounterVec
}

var (
	sweepOnce sync.Once
	sweep     *SweepMetrics
)

// Scheduler returns the singleton sweep metrics registry.
func Scheduler() *SweepMetrics {
	sweepOnce.Do(func() {
		sweep = newSweepMetrics(prometheus.DefaultRegisterer)
	})
	return sweep
}

// ResetForTest resets the singleton so tests can re-register.
func ResetForTest() {
	sweepOnce = sync.Once{}
	sweep = nil
}

func newSweepMetrics(registerer prometheus.Registerer) *SweepMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &SweepMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cobranca_scheduler_job_runs_total",
			Help: "Scheduler job runs by name.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cobranca_scheduler_job_errors_total",
			Help: "Scheduler job failures by name.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cobranca_scheduler_job_duration_seconds",
			Help:    "Scheduler job latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 1800},
		}, []string{"job"}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cobranca_scheduler_sweep_items_total",
			Help: "Sweep outcomes by job and result.",
		}, []string{"job", "result"}),
	}

	for _, collector := range []prometheus.Collector{m.jobRuns, m.jobErrors, m.jobDuration, m.sweepItems} {
		if err := registerer.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}
	return m
}

func (m *SweepMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SweepMetrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *SweepMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SweepMetrics) AddSweepItems(job, result string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sweepItems.WithLabelValues(job, result).Add(float64(count))
}
