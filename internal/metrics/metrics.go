// Package metrics exposes Prometheus collectors for cleanup cycles.
package metrics

import (
	"net/http"

	"github.com/closeness/sweeper/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sweeper"

// Cycle holds the reconciler collectors on a private registry.
type Cycle struct {
	registry *prometheus.Registry

	cycles      *prometheus.CounterVec
	objects     *prometheus.CounterVec
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
	batchSize   prometheus.Gauge
}

func NewCycle() *Cycle {
	m := &Cycle{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Cleanup cycles by terminal state.",
			},
			[]string{"state"},
		),
		objects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "objects_total",
				Help:      "Pending files processed, by result.",
			},
			[]string{"result"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Cleanup cycle duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last cycle that reached done.",
		}),
		batchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_size",
			Help:      "Number of pending files in the most recent listing.",
		}),
	}
	m.registry.MustRegister(
		m.cycles, m.objects, m.duration, m.lastSuccess, m.batchSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCycle records one finished cycle.
func (m *Cycle) ObserveCycle(r *models.CycleReport) {
	m.cycles.WithLabelValues(string(r.State)).Inc()
	m.duration.Observe(r.Duration().Seconds())
	m.batchSize.Set(float64(r.BatchSize))

	deleted := len(r.Outcome.DeletedIDs) - r.Absent
	m.objects.WithLabelValues("deleted").Add(float64(deleted))
	m.objects.WithLabelValues("absent").Add(float64(r.Absent))
	m.objects.WithLabelValues("failed").Add(float64(len(r.Outcome.FailedIDs)))

	if r.State == models.CycleStateDone {
		m.lastSuccess.Set(float64(r.FinishedAt.Unix()))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Cycle) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
