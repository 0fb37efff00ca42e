// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meeting_insight"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Upload metrics
	UploadsTotal      *prometheus.CounterVec
	UploadBytes       prometheus.Counter
	ExtractionLatency prometheus.Histogram
	ExtractionErrors  prometheus.Counter

	// Job metrics
	JobsStarted   prometheus.Counter
	JobsActive    prometheus.Gauge
	JobsCompleted prometheus.Counter
	JobsFailed    *prometheus.CounterVec
	JobDuration   prometheus.Histogram
	PollsTotal    *prometheus.CounterVec

	// Remote service metrics
	RemoteLatency *prometheus.HistogramVec
	RemoteErrors  *prometheus.CounterVec

	// Broadcast metrics
	Subscribers     prometheus.Gauge
	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Report and assistant metrics
	ReportsRendered *prometheus.CounterVec
	ChatRequests    *prometheus.CounterVec

	// gRPC health surface
	GRPCCalls *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		UploadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of upload requests by result",
		}, []string{"result"}),
		UploadBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Total bytes persisted by upload intake",
		}),
		ExtractionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Duration of audio extraction in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900},
		}),
		ExtractionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_errors_total",
			Help:      "Total number of failed audio extractions",
		}),

		JobsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of remote jobs submitted",
		}),
		JobsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Number of remote jobs currently being polled",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of remote jobs that completed",
		}),
		JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of jobs that failed, by stage",
		}, []string{"stage"}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from submission to terminal status in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		PollsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of status polls by outcome",
		}, []string{"outcome"}),

		RemoteLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_latency_seconds",
			Help:      "Analysis service request latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"operation"}),
		RemoteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_errors_total",
			Help:      "Total number of analysis service request errors",
		}, []string{"operation"}),

		Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_subscribers",
			Help:      "Number of connected progress subscribers",
		}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_events_total",
			Help:      "Total number of progress events published",
		}, []string{"status"}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_events_dropped_total",
			Help:      "Progress events not delivered to a slow subscriber",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		ReportsRendered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_rendered_total",
			Help:      "Total number of reports rendered by format and result",
		}, []string{"format", "result"}),
		ChatRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Total number of assistant requests by result",
		}, []string{"result"}),

		GRPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls by method and status code",
		}, []string{"method", "code"}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordUpload records the outcome of one upload request.
func (m *Metrics) RecordUpload(err error, bytes int64) {
	m.UploadsTotal.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.UploadBytes.Add(float64(bytes))
	}
}

// RecordExtraction records one transducer run.
func (m *Metrics) RecordExtraction(err error, durationSec float64) {
	m.ExtractionLatency.Observe(durationSec)
	if err != nil {
		m.ExtractionErrors.Inc()
	}
}

// RecordJobStart records a submitted job entering the polling phase.
func (m *Metrics) RecordJobStart() {
	m.JobsStarted.Inc()
	m.JobsActive.Inc()
}

// RecordJobEnd records a polled job reaching a terminal status.
func (m *Metrics) RecordJobEnd(success bool, durationSec float64) {
	m.JobsActive.Dec()
	m.JobDuration.Observe(durationSec)
	if success {
		m.JobsCompleted.Inc()
	} else {
		m.JobsFailed.WithLabelValues("remote").Inc()
	}
}

// RecordJobFailure records a failure before a job reached polling.
func (m *Metrics) RecordJobFailure(stage string) {
	m.JobsFailed.WithLabelValues(stage).Inc()
}

// RecordPoll records one status poll.
func (m *Metrics) RecordPoll(outcome string) {
	m.PollsTotal.WithLabelValues(outcome).Inc()
}

// RecordRemote records an analysis service call.
func (m *Metrics) RecordRemote(operation string, err error, durationSec float64) {
	m.RemoteLatency.WithLabelValues(operation).Observe(durationSec)
	if err != nil {
		m.RemoteErrors.WithLabelValues(operation).Inc()
	}
}

// RecordSubscribers sets the current subscriber count.
func (m *Metrics) RecordSubscribers(n int) {
	m.Subscribers.Set(float64(n))
}

// RecordEvent records a published progress event and how many deliveries were dropped.
func (m *Metrics) RecordEvent(status string, dropped int) {
	m.EventsPublished.WithLabelValues(status).Inc()
	if dropped > 0 {
		m.EventsDropped.Add(float64(dropped))
	}
}

// RecordKafkaPublish records a Kafka publish operation.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, durationSec float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(durationSec)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordReport records one report render.
func (m *Metrics) RecordReport(format string, err error) {
	m.ReportsRendered.WithLabelValues(format, result(err)).Inc()
}

// RecordChat records one assistant call.
func (m *Metrics) RecordChat(err error) {
	m.ChatRequests.WithLabelValues(result(err)).Inc()
}

// RecordGRPC records one finished gRPC call.
func (m *Metrics) RecordGRPC(method, code string) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
}
