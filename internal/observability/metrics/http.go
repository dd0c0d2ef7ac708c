package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	transitionsTotal  *prometheus.CounterVec
	supervisionTotal  *prometheus.CounterVec
	capFlagsTotal     *prometheus.CounterVec
	receiptsAckTotal  *prometheus.CounterVec
	rejectedByLimiter *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xpense",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xpense",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "xpense",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	transitionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xpense",
			Subsystem: "claims",
			Name:      "transitions_total",
			Help:      "Claim status change requests by target status and result.",
		},
		[]string{"service", "to", "result"},
	)
	supervisionTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xpense",
			Subsystem: "claims",
			Name:      "submitted_supervision_total",
			Help:      "Submitted claims by supervision level.",
		},
		[]string{"service", "level", "legal_review"},
	)
	capFlagsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xpense",
			Subsystem: "caps",
			Name:      "policy_flags_total",
			Help:      "Cap policy flags raised on submitted claims.",
		},
		[]string{"service", "code"},
	)
	receiptsAckTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xpense",
			Subsystem: "receipts",
			Name:      "acknowledged_total",
			Help:      "Receipt acknowledgements by result.",
		},
		[]string{"service", "result"},
	)
	rejectedByLimiter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xpense",
			Subsystem: "http",
			Name:      "shed_requests_total",
			Help:      "Requests rejected by traffic control.",
		},
		[]string{"service", "reason"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		transitionsTotal,
		supervisionTotal,
		capFlagsTotal,
		receiptsAckTotal,
		rejectedByLimiter,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		transitionsTotal:  transitionsTotal,
		supervisionTotal:  supervisionTotal,
		capFlagsTotal:     capFlagsTotal,
		receiptsAckTotal:  receiptsAckTotal,
		rejectedByLimiter: rejectedByLimiter,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses ids so label cardinality stays bounded.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/uploads/"):
		return "/v1/uploads/{path}"
	case path == "/v1/groups/invites":
		return path
	case strings.HasPrefix(path, "/v1/teams/"):
		rest := collapseID(strings.TrimPrefix(path, "/v1/teams/"))
		if strings.HasPrefix(rest, "/members/") {
			rest = "/members/{user_id}"
		}
		return "/v1/teams/{team_id}" + rest
	case strings.HasPrefix(path, "/v1/groups/"):
		return "/v1/groups/{group_id}" + collapseID(strings.TrimPrefix(path, "/v1/groups/"))
	case strings.HasPrefix(path, "/v1/claims/"):
		return "/v1/claims/{claim_id}" + collapseID(strings.TrimPrefix(path, "/v1/claims/"))
	default:
		return path
	}
}

// collapseID drops the leading id segment and returns the remainder.
func collapseID(rest string) string {
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[i:]
	}
	return ""
}

func (m *HTTPServerMetrics) RecordTransition(service, to string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.transitionsTotal.WithLabelValues(service, to, result).Inc()
}

func (m *HTTPServerMetrics) RecordSubmission(service, supervisionLevel string, legalReview bool, flagCodes []string) {
	m.supervisionTotal.WithLabelValues(service, supervisionLevel, strconv.FormatBool(legalReview)).Inc()
	for _, code := range flagCodes {
		m.capFlagsTotal.WithLabelValues(service, code).Inc()
	}
}

func (m *HTTPServerMetrics) RecordReceiptAck(service string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.receiptsAckTotal.WithLabelValues(service, result).Inc()
}

func (m *HTTPServerMetrics) RecordShed(service, reason string) {
	m.rejectedByLimiter.WithLabelValues(service, reason).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
