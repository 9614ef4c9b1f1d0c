// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_speech_stream"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   *prometheus.CounterVec
	SessionsActive  *prometheus.GaugeVec
	SessionsClosed  *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec
	SessionsReject  *prometheus.CounterVec

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	BackpressureTotal   *prometheus.CounterVec

	// Transcript metrics
	TranscriptUpdates *prometheus.CounterVec

	// Adapter metrics
	AdapterLatency  *prometheus.HistogramVec
	AdapterErrors   *prometheus.CounterVec
	CloudReconnects prometheus.Counter

	// Inference pool metrics
	InferenceInFlight prometheus.Gauge
	InferenceWait     prometheus.Histogram

	// Resource monitor metrics
	MonitorTerminations *prometheus.CounterVec
	ProcessCPUPercent   prometheus.Gauge
	ProcessRSSBytes     prometheus.Gauge

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// gRPC metrics
	GRPCCalls        *prometheus.CounterVec
	GRPCCallDuration *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Session metrics
		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of streaming sessions created",
		}, []string{"engine"}),
		SessionsActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active streaming sessions",
		}, []string{"engine"}),
		SessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of sessions closed, by reason",
		}, []string{"engine", "reason"}),
		SessionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of streaming sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"engine"}),
		SessionsReject: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Total number of session creations rejected",
		}, []string{"reason"}),

		// Audio metrics
		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),
		BackpressureTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backpressure_rejections_total",
			Help:      "Total number of audio chunks rejected because a session queue was full",
		}, []string{"engine"}),

		// Transcript metrics
		TranscriptUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_updates_total",
			Help:      "Total number of transcript updates produced",
		}, []string{"engine", "kind"}),

		// Adapter metrics
		AdapterLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adapter_latency_seconds",
			Help:      "Time spent inside engine adapter calls",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 3, 5},
		}, []string{"engine", "op"}),
		AdapterErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_errors_total",
			Help:      "Total number of engine adapter failures",
		}, []string{"engine", "op"}),
		CloudReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cloud_reconnects_total",
			Help:      "Total number of cloud streaming reconnect attempts",
		}),

		// Inference pool metrics
		InferenceInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_in_flight",
			Help:      "Number of windowed inferences currently running",
		}),
		InferenceWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_wait_seconds",
			Help:      "Time an inference waited for a worker slot",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		// Resource monitor metrics
		MonitorTerminations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_terminations_total",
			Help:      "Total number of sessions terminated by the resource monitor",
		}, []string{"limit"}),
		ProcessCPUPercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "Process CPU utilisation sampled by the resource monitor",
		}),
		ProcessRSSBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_rss_bytes",
			Help:      "Process resident memory sampled by the resource monitor",
		}),

		// Kafka publish metrics
		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// gRPC metrics
		GRPCCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls served",
		}, []string{"service", "method", "kind", "code"}),
		GRPCCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_call_duration_seconds",
			Help:      "Duration of served gRPC calls in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"service", "method", "kind"}),
	}
}

// RecordSessionStart records a new session being created.
func (m *Metrics) RecordSessionStart(engine string) {
	m.SessionsTotal.WithLabelValues(engine).Inc()
	m.SessionsActive.WithLabelValues(engine).Inc()
}

// RecordSessionEnd records a session reaching the closed state.
func (m *Metrics) RecordSessionEnd(engine, reason string, durationSeconds float64) {
	m.SessionsActive.WithLabelValues(engine).Dec()
	m.SessionsClosed.WithLabelValues(engine, reason).Inc()
	m.SessionDuration.WithLabelValues(engine).Observe(durationSeconds)
}

// RecordSessionRejected records a session creation that was refused.
func (m *Metrics) RecordSessionRejected(reason string) {
	m.SessionsReject.WithLabelValues(reason).Inc()
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordBackpressure records a chunk rejected by a full session queue.
func (m *Metrics) RecordBackpressure(engine string) {
	m.BackpressureTotal.WithLabelValues(engine).Inc()
}

// RecordUpdate records a transcript update emitted to a client.
func (m *Metrics) RecordUpdate(engine, kind string) {
	m.TranscriptUpdates.WithLabelValues(engine, kind).Inc()
}

// RecordAdapterCall records the latency of one adapter call.
func (m *Metrics) RecordAdapterCall(engine, op string, seconds float64, err error) {
	m.AdapterLatency.WithLabelValues(engine, op).Observe(seconds)
	if err != nil {
		m.AdapterErrors.WithLabelValues(engine, op).Inc()
	}
}

// RecordCloudReconnect records a reconnect attempt to the cloud recognizer.
func (m *Metrics) RecordCloudReconnect() {
	m.CloudReconnects.Inc()
}

// RecordMonitorTermination records a session terminated for exceeding a limit.
func (m *Metrics) RecordMonitorTermination(limit string) {
	m.MonitorTerminations.WithLabelValues(limit).Inc()
}

// RecordProcessSample records a process resource sample.
func (m *Metrics) RecordProcessSample(cpuPercent float64, rssBytes uint64) {
	m.ProcessCPUPercent.Set(cpuPercent)
	m.ProcessRSSBytes.Set(float64(rssBytes))
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPCCall records a served gRPC call; kind is "unary" or "stream".
func (m *Metrics) RecordGRPCCall(service, method, kind, code string, durationSeconds float64) {
	m.GRPCCalls.WithLabelValues(service, method, kind, code).Inc()
	m.GRPCCallDuration.WithLabelValues(service, method, kind).Observe(durationSeconds)
}
