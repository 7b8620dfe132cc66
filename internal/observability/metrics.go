package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "postsecret"

// Metrics holds the pipeline's Prometheus collectors on a private registry.
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests       *prometheus.CounterVec
	apiLatency        *prometheus.HistogramVec
	itemsProcessed    *prometheus.CounterVec
	batchDuration     *prometheus.HistogramVec
	classifierCalls   *prometheus.CounterVec
	classifierRetries *prometheus.CounterVec
	embeddingResults  *prometheus.CounterVec
	mirrorResults     *prometheus.CounterVec
	similaritySource  *prometheus.CounterVec
	jobsCreated       *prometheus.CounterVec
	indexOps          *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_requests_total", Help: "HTTP API requests.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "api_request_duration_seconds", Help: "HTTP API latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "job_items_processed_total", Help: "Bulk job items processed, by outcome.",
		}, []string{"kind", "outcome"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_batch_duration_seconds", Help: "Duration of one processBatch step.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"kind"}),
		classifierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "classifier_calls_total", Help: "Vision classification calls, by result.",
		}, []string{"result"}),
		classifierRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "classifier_retries_total", Help: "Retried vision-model requests, by HTTP status.",
		}, []string{"status"}),
		embeddingResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "embedding_results_total", Help: "Embedding generation, by result.",
		}, []string{"result"}),
		mirrorResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ann_mirror_upserts_total", Help: "ANN mirror upserts, by result.",
		}, []string{"result"}),
		similaritySource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "similarity_queries_total", Help: "findSimilar queries, by answering backend.",
		}, []string{"source"}),
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_created_total", Help: "Bulk jobs created or rejected at creation.",
		}, []string{"kind", "result"}),
		indexOps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "vector_index_operation_duration_seconds", Help: "ANN index calls, by operation and status.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency,
		m.itemsProcessed, m.batchDuration,
		m.classifierCalls, m.classifierRetries,
		m.embeddingResults, m.mirrorResults,
		m.similaritySource, m.jobsCreated,
		m.indexOps,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) IncItem(kind, outcome string) {
	if m == nil {
		return
	}
	m.itemsProcessed.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveBatch(kind string, dur time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(kind).Observe(dur.Seconds())
}

func (m *Metrics) IncClassifierCall(result string) {
	if m == nil {
		return
	}
	m.classifierCalls.WithLabelValues(result).Inc()
}

func (m *Metrics) IncClassifierRetry(status string) {
	if m == nil {
		return
	}
	m.classifierRetries.WithLabelValues(status).Inc()
}

func (m *Metrics) IncEmbedding(result string) {
	if m == nil {
		return
	}
	m.embeddingResults.WithLabelValues(result).Inc()
}

func (m *Metrics) IncMirror(result string) {
	if m == nil {
		return
	}
	m.mirrorResults.WithLabelValues(result).Inc()
}

func (m *Metrics) IncSimilarity(source string) {
	if m == nil {
		return
	}
	m.similaritySource.WithLabelValues(source).Inc()
}

func (m *Metrics) IncJobCreated(kind, result string) {
	if m == nil {
		return
	}
	m.jobsCreated.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveIndexOperation(operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.indexOps.WithLabelValues(operation, status).Observe(dur.Seconds())
}
