package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	modelDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments. It satisfies the recorder
// interfaces of the admission, gateway, router, and workflow packages.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Admission metrics
	RateLimitDecisionsTotal *prometheus.CounterVec

	// Gateway metrics
	ModelCallsTotal      *prometheus.CounterVec
	ModelCallDuration    *prometheus.HistogramVec
	ModelRetriesTotal    *prometheus.CounterVec
	CircuitTransitions   *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec

	// Router metrics
	RouteDecisionsTotal *prometheus.CounterVec

	// Workflow metrics
	WorkflowStartsTotal      *prometheus.CounterVec
	WorkflowTransitionsTotal *prometheus.CounterVec
	WorkflowCompletionsTotal *prometheus.CounterVec
	WorkflowActiveInstances  *prometheus.GaugeVec
	WorkflowTimeoutsTotal    *prometheus.CounterVec

	// System metrics
	DefinitionReloadTotal *prometheus.CounterVec
	DefinitionsLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steward_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steward_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steward_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Admission
		RateLimitDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_rate_limit_decisions_total",
			Help: "Total number of admission decisions.",
		}, []string{"decision"}),

		// Gateway
		ModelCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_model_calls_total",
			Help: "Total number of model invocations.",
		}, []string{"route", "outcome"}),
		ModelCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steward_model_call_duration_seconds",
			Help:    "Model invocation duration in seconds.",
			Buckets: modelDurationBuckets,
		}, []string{"route"}),
		ModelRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_model_retries_total",
			Help: "Total number of model invocation retries.",
		}, []string{"route"}),
		CircuitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_circuit_transitions_total",
			Help: "Total number of circuit breaker state transitions.",
		}, []string{"route", "from", "to"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "steward_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"route"}),

		// Router
		RouteDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_route_decisions_total",
			Help: "Total number of routing decisions.",
		}, []string{"method", "intent"}),

		// Workflows
		WorkflowStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_workflow_starts_total",
			Help: "Total number of workflow starts.",
		}, []string{"workflow_id"}),
		WorkflowTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_workflow_transitions_total",
			Help: "Total number of workflow transition attempts.",
		}, []string{"workflow_id", "event", "outcome"}),
		WorkflowCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_workflow_completions_total",
			Help: "Total number of workflow completions.",
		}, []string{"workflow_id", "final_status"}),
		WorkflowActiveInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "steward_workflow_active_instances",
			Help: "Number of active workflow instances.",
		}, []string{"workflow_id"}),
		WorkflowTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_workflow_timeouts_total",
			Help: "Total number of workflow timeouts.",
		}, []string{"workflow_id"}),

		// System
		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_definition_reload_total",
			Help: "Total definition reloads.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "steward_definitions_loaded",
			Help: "Number of loaded definition files.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Admission
		m.RateLimitDecisionsTotal,
		// Gateway
		m.ModelCallsTotal,
		m.ModelCallDuration,
		m.ModelRetriesTotal,
		m.CircuitTransitions,
		m.CircuitBreakerState,
		// Router
		m.RouteDecisionsTotal,
		// Workflows
		m.WorkflowStartsTotal,
		m.WorkflowTransitionsTotal,
		m.WorkflowCompletionsTotal,
		m.WorkflowActiveInstances,
		m.WorkflowTimeoutsTotal,
		// System
		m.DefinitionReloadTotal,
		m.DefinitionsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordRateLimitDecision records an admission decision for a client.
func (m *Metrics) RecordRateLimitDecision(_ string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "rejected"
	}
	m.RateLimitDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordModelCall records the outcome and latency of a model invocation.
func (m *Metrics) RecordModelCall(key, outcome string, latency time.Duration) {
	m.ModelCallsTotal.WithLabelValues(key, outcome).Inc()
	m.ModelCallDuration.WithLabelValues(key).Observe(latency.Seconds())
}

// RecordModelRetry records a model invocation retry.
func (m *Metrics) RecordModelRetry(key string) {
	m.ModelRetriesTotal.WithLabelValues(key).Inc()
}

// RecordCircuitStateChange records a circuit breaker transition and updates
// the current-state gauge.
func (m *Metrics) RecordCircuitStateChange(key, from, to string) {
	m.CircuitTransitions.WithLabelValues(key, from, to).Inc()
	m.CircuitBreakerState.WithLabelValues(key).Set(circuitStateValue(to))
}

// RecordRouteDecision records how a message was routed.
func (m *Metrics) RecordRouteDecision(method, intent string) {
	m.RouteDecisionsTotal.WithLabelValues(method, intent).Inc()
}

// RecordWorkflowStart records a workflow start.
func (m *Metrics) RecordWorkflowStart(workflowID string) {
	m.WorkflowStartsTotal.WithLabelValues(workflowID).Inc()
	m.WorkflowActiveInstances.WithLabelValues(workflowID).Inc()
}

// RecordWorkflowTransition records a workflow transition attempt.
func (m *Metrics) RecordWorkflowTransition(definitionID, event, outcome string) {
	m.WorkflowTransitionsTotal.WithLabelValues(definitionID, event, outcome).Inc()
}

// RecordWorkflowCompletion records a workflow completion.
func (m *Metrics) RecordWorkflowCompletion(workflowID, finalStatus string) {
	m.WorkflowCompletionsTotal.WithLabelValues(workflowID, finalStatus).Inc()
	m.WorkflowActiveInstances.WithLabelValues(workflowID).Dec()
}

// RecordWorkflowTimeout records a workflow timeout.
func (m *Metrics) RecordWorkflowTimeout(workflowID string) {
	m.WorkflowTimeoutsTotal.WithLabelValues(workflowID).Inc()
}

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definition files.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

func circuitStateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half-open":
		return 1
	default:
		return 0
	}
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
