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

// HTTPServerMetrics collects the api-process metrics: HTTP surface, safety
// pipeline verdicts, retrieval/answer behavior, and question validation.
type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	safetyInputTotal      *prometheus.CounterVec
	injectionLayerTotal   *prometheus.CounterVec
	moderationTotal       *prometheus.CounterVec
	outputIterations      *prometheus.HistogramVec
	outputFallbackTotal   *prometheus.CounterVec
	piiEntitiesTotal      *prometheus.CounterVec
	ragRequestsTotal   *prometheus.CounterVec
	ragDuration        *prometheus.HistogramVec
	ragRetrievedChunks *prometheus.HistogramVec
	ragUngroundedTotal *prometheus.CounterVec
	validationTotal    *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tutor",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tutor",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	safetyInputTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "safety",
			Name:      "input_validations_total",
			Help:      "Input validations by resulting action.",
		},
		[]string{"service", "action"},
	)
	injectionLayerTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "safety",
			Name:      "injection_threat_total",
			Help:      "Injection analyses by resulting threat level.",
		},
		[]string{"service", "threat"},
	)
	moderationTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "safety",
			Name:      "moderation_results_total",
			Help:      "Moderation verdicts by status and category.",
		},
		[]string{"service", "status", "category"},
	)
	outputIterations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tutor",
			Subsystem: "safety",
			Name:      "output_iterations",
			Help:      "Output validation loop iterations per response.",
			Buckets:   []float64{1, 2, 3},
		},
		[]string{"service"},
	)
	outputFallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "safety",
			Name:      "output_fallbacks_total",
			Help:      "Responses replaced by the fixed fallback message.",
		},
		[]string{"service"},
	)
	piiEntitiesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "safety",
			Name:      "pii_entities_total",
			Help:      "Redacted PII entities by type.",
		},
		[]string{"service", "entity_type"},
	)
	ragRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "rag",
			Name:      "requests_total",
			Help:      "Completed answer requests by outcome.",
		},
		[]string{"service", "endpoint", "outcome"},
	)
	ragDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tutor",
			Subsystem: "rag",
			Name:      "duration_seconds",
			Help:      "Answer pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	ragRetrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tutor",
			Subsystem: "rag",
			Name:      "retrieved_chunks",
			Help:      "Distribution of retrieved chunks per answer.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"service", "endpoint"},
	)
	ragUngroundedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "rag",
			Name:      "ungrounded_answers_total",
			Help:      "Answers that failed the grounding check after regeneration.",
		},
		[]string{"service"},
	)
	validationTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "questions",
			Name:      "validations_total",
			Help:      "Question validations by outcome; failed checks carry the check name.",
		},
		[]string{"service", "outcome", "check"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		safetyInputTotal,
		injectionLayerTotal,
		moderationTotal,
		outputIterations,
		outputFallbackTotal,
		piiEntitiesTotal,
		ragRequestsTotal,
		ragDuration,
		ragRetrievedChunks,
		ragUngroundedTotal,
		validationTotal,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		safetyInputTotal:    safetyInputTotal,
		injectionLayerTotal: injectionLayerTotal,
		moderationTotal:     moderationTotal,
		outputIterations:    outputIterations,
		outputFallbackTotal: outputFallbackTotal,
		piiEntitiesTotal:    piiEntitiesTotal,
		ragRequestsTotal:    ragRequestsTotal,
		ragDuration:         ragDuration,
		ragRetrievedChunks:  ragRetrievedChunks,
		ragUngroundedTotal:  ragUngroundedTotal,
		validationTotal:     validationTotal,
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

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/documents/"):
		return "/v1/documents/{document_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordInputValidation(service, action string) {
	if action == "" {
		action = "unknown"
	}
	m.safetyInputTotal.WithLabelValues(service, action).Inc()
}

func (m *HTTPServerMetrics) RecordInjectionThreat(service, threat string) {
	m.injectionLayerTotal.WithLabelValues(service, threat).Inc()
}

func (m *HTTPServerMetrics) RecordModeration(service, status, category string) {
	if category == "" {
		category = "none"
	}
	m.moderationTotal.WithLabelValues(service, status, category).Inc()
}

func (m *HTTPServerMetrics) RecordOutputValidation(service string, iterations int, fellBack bool) {
	if iterations > 0 {
		m.outputIterations.WithLabelValues(service).Observe(float64(iterations))
	}
	if fellBack {
		m.outputFallbackTotal.WithLabelValues(service).Inc()
	}
}

func (m *HTTPServerMetrics) RecordPIIEntity(service, entityType string) {
	m.piiEntitiesTotal.WithLabelValues(service, entityType).Inc()
}

func (m *HTTPServerMetrics) RecordAnswer(service, endpoint, outcome string, sourceCount int, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.ragRequestsTotal.WithLabelValues(service, endpoint, outcome).Inc()
	m.ragRetrievedChunks.WithLabelValues(service, endpoint).Observe(float64(sourceCount))
	m.ragDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordUngroundedAnswer(service string) {
	m.ragUngroundedTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordQuestionValidation(service string, valid bool, failedCheck string) {
	outcome := "accepted"
	check := "none"
	if !valid {
		outcome = "rejected"
		if failedCheck != "" {
			check = failedCheck
		}
	}
	m.validationTotal.WithLabelValues(service, outcome, check).Inc()
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

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
