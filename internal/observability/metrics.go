package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stages timed per turn.
const (
	StageMemoryLoad = "memory_load"
	StageRetrieval  = "retrieval"
	StageGeneration = "generation"
	StageCompaction = "compaction"
	StageTurnTotal  = "turn_total"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	window   *stageWindow

	Turns              *prometheus.CounterVec
	RetrievalFallbacks *prometheus.CounterVec
	DecryptFailures    prometheus.Counter
	Compactions        *prometheus.CounterVec
	GenerationRetries  *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	StageLatency       *prometheus.HistogramVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		window:   newStageWindow(256),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Chat operations by operation, persona and outcome.",
		}, []string{"operation", "persona", "outcome"}),
		RetrievalFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_fallbacks_total",
			Help:      "Turns answered with an empty context block, by reason.",
		}, []string{"reason"}),
		DecryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_decrypt_failures_total",
			Help:      "Stored summaries that could not be decrypted.",
		}),
		Compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Summary compactions by outcome.",
		}, []string{"outcome"}),
		GenerationRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_retries_total",
			Help:      "Retried generation calls by provider.",
		}, []string{"provider"}),
		WSMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		StageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Pipeline stage latency in milliseconds.",
			Buckets:   []float64{5, 25, 100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}, []string{"stage"}),
	}
	reg.MustRegister(
		m.Turns,
		m.RetrievalFallbacks,
		m.DecryptFailures,
		m.Compactions,
		m.GenerationRetries,
		m.WSMessages,
		m.StageLatency,
	)
	return m
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.window.Observe(stage, ms)
}

func (m *Metrics) ObserveTurn(operation, persona, outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(operation, persona, outcome).Inc()
}

func (m *Metrics) ObserveRetrievalFallback(reason string) {
	if m == nil {
		return
	}
	m.RetrievalFallbacks.WithLabelValues(reason).Inc()
	m.window.Event("retrieval_fallback_" + reason)
}

func (m *Metrics) ObserveDecryptFailure() {
	if m == nil {
		return
	}
	m.DecryptFailures.Inc()
	m.window.Event("summary_decrypt_failure")
}

func (m *Metrics) ObserveCompaction(outcome string) {
	if m == nil {
		return
	}
	m.Compactions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGenerationRetry(provider string) {
	if m == nil {
		return
	}
	m.GenerationRetries.WithLabelValues(provider).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// SnapshotStages returns rolling latency percentiles for /v1/perf/latency.
func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{Stages: []StageStats{}}
	}
	return m.window.Snapshot()
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
