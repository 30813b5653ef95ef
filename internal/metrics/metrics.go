// Package metrics exposes Prometheus collectors for the capture pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livecap"

// Metrics holds every collector, registered against its own registry.
type Metrics struct {
	registry *prometheus.Registry

	ChunksProcessed     prometheus.Counter
	ChunkEnergy         prometheus.Histogram
	UtterancesReady     prometheus.Counter
	UtterancesDiscarded prometheus.Counter
	UtteranceDuration   prometheus.Histogram
	Transitions         *prometheus.CounterVec
	SessionState        *prometheus.GaugeVec

	Recognitions       *prometheus.CounterVec
	RecognitionLatency *prometheus.HistogramVec

	Observers        prometheus.Gauge
	MessagesQueued   prometheus.Counter
	ObserversEvicted *prometheus.CounterVec

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers all collectors plus Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ChunksProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_processed_total",
			Help:      "Audio chunks fed to the segmenter.",
		}),
		ChunkEnergy: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_chunk_energy",
			Help:      "RMS energy of processed chunks.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12), // 10 to ~20k
		}),
		UtterancesReady: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_ready_total",
			Help:      "Utterances handed to recognition.",
		}),
		UtterancesDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_discarded_total",
			Help:      "Buffered utterances dropped as shorter than the minimum recording duration.",
		}),
		UtteranceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_duration_seconds",
			Help:      "Duration of utterances handed to recognition.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Applied session state transitions.",
		}, []string{"from", "to"}),
		SessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),

		Recognitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognitions_total",
			Help:      "Recognition calls by backend and outcome.",
		}, []string{"backend", "outcome"}),
		RecognitionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_duration_seconds",
			Help:      "Recognition call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"backend"}),

		Observers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers",
			Help:      "Connected observers.",
		}),
		MessagesQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_messages_queued_total",
			Help:      "Messages queued to observers, counted per observer.",
		}),
		ObserversEvicted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observers_evicted_total",
			Help:      "Observers removed because they stalled or failed.",
		}, []string{"reason"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry returns the registry backing these collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveChunk records one segmenter input.
func (m *Metrics) ObserveChunk(energy float64) {
	m.ChunksProcessed.Inc()
	m.ChunkEnergy.Observe(energy)
}

// ObserveUtterance records a finalized utterance.
func (m *Metrics) ObserveUtterance(duration time.Duration) {
	m.UtterancesReady.Inc()
	m.UtteranceDuration.Observe(duration.Seconds())
}

// ObserveDiscard records an utterance rejected as noise.
func (m *Metrics) ObserveDiscard() {
	m.UtterancesDiscarded.Inc()
}

// ObserveTransition records a state change and updates the state gauge.
func (m *Metrics) ObserveTransition(from, to string) {
	m.Transitions.WithLabelValues(from, to).Inc()
	m.SessionState.WithLabelValues(from).Set(0)
	m.SessionState.WithLabelValues(to).Set(1)
}

// ObserveRecognition implements recognizer.Metrics.
func (m *Metrics) ObserveRecognition(backend, outcome string, elapsed time.Duration) {
	m.Recognitions.WithLabelValues(backend, outcome).Inc()
	m.RecognitionLatency.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// ObserversChanged implements broadcast.Metrics.
func (m *Metrics) ObserversChanged(count int) {
	m.Observers.Set(float64(count))
}

// Delivered implements broadcast.Metrics.
func (m *Metrics) Delivered(count int) {
	m.MessagesQueued.Add(float64(count))
}

// Evicted implements broadcast.Metrics.
func (m *Metrics) Evicted(reason string) {
	m.ObserversEvicted.WithLabelValues(reason).Inc()
}

// Instrument wraps next with request count and latency collection.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(started).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
