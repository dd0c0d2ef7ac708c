package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	eventsTotal    *prometheus.CounterVec
	eventDuration  *prometheus.HistogramVec
	eventsInFlight prometheus.Gauge
	outcomeTotal   *prometheus.CounterVec
	eventLag       *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xpense",
			Subsystem: "worker",
			Name:      "extraction_events_total",
			Help:      "Total handled extraction events by status.",
		},
		[]string{"service", "status"},
	)
	eventDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xpense",
			Subsystem: "worker",
			Name:      "extraction_event_duration_seconds",
			Help:      "Extraction event handling duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	eventsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "xpense",
			Subsystem: "worker",
			Name:      "extraction_events_in_flight",
			Help:      "Number of extraction events being handled.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	outcomeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xpense",
			Subsystem: "worker",
			Name:      "extractions_total",
			Help:      "Recorded extractions by outcome.",
		},
		[]string{"service", "outcome"},
	)
	eventLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xpense",
			Subsystem: "worker",
			Name:      "extraction_lag_seconds",
			Help:      "Delay between the analysis result and its recording.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(eventsTotal, eventDuration, eventsInFlight, outcomeTotal, eventLag)

	return &WorkerMetrics{
		registry:       registry,
		eventsTotal:    eventsTotal,
		eventDuration:  eventDuration,
		eventsInFlight: eventsInFlight,
		outcomeTotal:   outcomeTotal,
		eventLag:       eventLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartEvent() {
	m.eventsInFlight.Inc()
}

func (m *WorkerMetrics) FinishEvent(service string, duration time.Duration, err error) {
	m.eventsInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.eventsTotal.WithLabelValues(service, status).Inc()
	m.eventDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

// RecordOutcome counts recorded extractions as succeeded, failed or ignored.
func (m *WorkerMetrics) RecordOutcome(service, outcome string) {
	m.outcomeTotal.WithLabelValues(service, outcome).Inc()
}

func (m *WorkerMetrics) ObserveLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.eventLag.WithLabelValues(service).Observe(lag.Seconds())
}
