package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice recording service
type Metrics struct {
	// UDP packet metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter
	QueueSize        prometheus.Gauge

	// Frame metrics
	FramesDecoded      prometheus.Counter
	DecodeErrors       prometheus.Counter
	FramesDropped      prometheus.Counter
	FramesSpilled      prometheus.Counter
	GapFramesRecorded  prometheus.Counter

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsFailed    prometheus.Counter
	SessionDuration   prometheus.Histogram
	SessionSpeakers   prometheus.Histogram

	// Mix metrics
	MixAttempts     prometheus.Counter
	MixRetries      prometheus.Counter
	MixFailures     prometheus.Counter
	MixDuration     prometheus.Histogram
	ArtifactSize    prometheus.Histogram
	TracksDropped   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// UDP packet metrics
		PacketsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_packets_received_total",
			Help: "Total number of UDP packets received",
		}),
		PacketsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_packets_processed_total",
			Help: "Total number of UDP packets successfully processed",
		}),
		ParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),
		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_packet_queue_size",
			Help: "Current number of packets in processing queue",
		}),

		// Frame metrics
		FramesDecoded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_frames_decoded_total",
			Help: "Total number of audio frames decoded",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_decode_errors_total",
			Help: "Total number of frame decode errors (silence substituted)",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_frames_dropped_total",
			Help: "Total number of frames dropped as too old to reorder",
		}),
		FramesSpilled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_frames_spilled_total",
			Help: "Total number of frames spilled to disk under memory pressure",
		}),
		GapFramesRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_gap_frames_recorded_total",
			Help: "Total number of silence frames recorded for stream gaps",
		}),

		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_active_sessions",
			Help: "Current number of active recording sessions",
		}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_completed_total",
			Help: "Total number of sessions completed with an artifact",
		}),
		SessionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_failed_total",
			Help: "Total number of sessions that ended in failure",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_session_duration_seconds",
			Help:    "Duration of recording sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~3 hours
		}),
		SessionSpeakers: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_session_speakers",
			Help:    "Number of distinct speakers per session",
			Buckets: prometheus.LinearBuckets(1, 1, 12),
		}),

		// Mix metrics
		MixAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_mix_attempts_total",
			Help: "Total number of mix process invocations",
		}),
		MixRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_mix_retries_total",
			Help: "Total number of mix retries after failure",
		}),
		MixFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_mix_failures_total",
			Help: "Total number of mixes that exhausted all attempts",
		}),
		MixDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_mix_duration_seconds",
			Help:    "Wall time of successful mixes",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~8 minutes
		}),
		ArtifactSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_artifact_size_bytes",
			Help:    "Size of produced recording artifacts",
			Buckets: prometheus.ExponentialBuckets(65536, 4, 8), // 64KB to ~1GB
		}),
		TracksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_mix_tracks_dropped_total",
			Help: "Total number of corrupt tracks dropped from mixes",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	m.PacketsProcessed.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// RecordFrameDecoded increments the frames decoded counter
func (m *Metrics) RecordFrameDecoded() {
	m.FramesDecoded.Inc()
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// RecordFrameDropped increments the dropped frames counter
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// RecordFramesSpilled adds to the spilled frames counter
func (m *Metrics) RecordFramesSpilled(count int) {
	m.FramesSpilled.Add(float64(count))
}

// RecordGapFrames adds to the recorded gap frames counter
func (m *Metrics) RecordGapFrames(count int) {
	m.GapFramesRecorded.Add(float64(count))
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionCompleted records a completed session and its duration
func (m *Metrics) RecordSessionCompleted(durationSeconds float64, speakers int) {
	m.SessionsCompleted.Inc()
	m.SessionDuration.Observe(durationSeconds)
	m.SessionSpeakers.Observe(float64(speakers))
}

// RecordSessionFailed records a failed session
func (m *Metrics) RecordSessionFailed() {
	m.SessionsFailed.Inc()
}

// RecordMixAttempt increments the mix attempts counter
func (m *Metrics) RecordMixAttempt() {
	m.MixAttempts.Inc()
}

// RecordMixRetry increments the mix retries counter
func (m *Metrics) RecordMixRetry() {
	m.MixRetries.Inc()
}

// RecordMixFailure increments the mix failures counter
func (m *Metrics) RecordMixFailure() {
	m.MixFailures.Inc()
}

// RecordMixSuccess records a successful mix
func (m *Metrics) RecordMixSuccess(durationSeconds float64, sizeBytes int64) {
	m.MixDuration.Observe(durationSeconds)
	m.ArtifactSize.Observe(float64(sizeBytes))
}

// RecordTrackDropped increments the dropped tracks counter
func (m *Metrics) RecordTrackDropped() {
	m.TracksDropped.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
