package server

import (
	"errors"
	"net/http"

	"github.com/aeolun/relaychat/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server. Each instance owns its
// registry so several servers can run in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Client metrics
	activeClients   prometheus.Gauge
	connections     *prometheus.CounterVec // by transport
	authentications prometheus.Counter
	authTimeouts    prometheus.Counter
	evictions       prometheus.Counter
	disconnections  prometheus.Counter

	// Frame metrics
	framesReceived *prometheus.CounterVec // by message type
	messagesSent   *prometheus.CounterVec // by message type
	decodeErrors   *prometheus.CounterVec // by kind
	framesDropped  *prometheus.CounterVec // by reason

	// Broadcast metrics
	broadcastFanout   prometheus.Histogram
	broadcastDuration prometheus.Histogram
	writeFailures     prometheus.Counter
}

// NewMetrics creates a new metrics instance with its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		activeClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relaychat_active_clients",
			Help: "Current number of authenticated clients",
		}),
		connections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_connections_total",
			Help: "Total number of accepted connections",
		}, []string{"transport"}),
		authentications: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_authentications_total",
			Help: "Total number of successful authentications",
		}),
		authTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_auth_timeouts_total",
			Help: "Connections closed because they did not authenticate in time",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_evictions_total",
			Help: "Connections closed because the same HWID authenticated again",
		}),
		disconnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_disconnections_total",
			Help: "Total number of closed connections",
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_frames_received_total",
			Help: "Total number of frames received from clients by type",
		}, []string{"type"}),
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_messages_sent_total",
			Help: "Total number of frames sent to clients by type",
		}, []string{"type"}),
		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_decode_errors_total",
			Help: "Frames that failed to decode, by kind",
		}, []string{"kind"}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_frames_dropped_total",
			Help: "Well-formed frames ignored by the session handler, by reason",
		}, []string{"reason"}),
		broadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relaychat_broadcast_fanout",
			Help:    "Number of clients targeted by each broadcast",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		broadcastDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relaychat_broadcast_duration_seconds",
			Help:    "Time taken to write a broadcast to all recipients",
			Buckets: prometheus.DefBuckets,
		}),
		writeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_write_failures_total",
			Help: "Broadcast writes that failed and closed the recipient",
		}),
	}
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordActiveClients updates the authenticated client count
func (m *Metrics) RecordActiveClients(count int) {
	m.activeClients.Set(float64(count))
}

// RecordConnection increments the accepted connection counter
func (m *Metrics) RecordConnection(transport string) {
	m.connections.WithLabelValues(transport).Inc()
}

// RecordAuthenticated increments the successful authentication counter
func (m *Metrics) RecordAuthenticated() {
	m.authentications.Inc()
}

// RecordAuthTimeout increments the authentication timeout counter
func (m *Metrics) RecordAuthTimeout() {
	m.authTimeouts.Inc()
}

// RecordEviction increments the counter of superseded connections
func (m *Metrics) RecordEviction() {
	m.evictions.Inc()
}

// RecordDisconnected increments the disconnection counter
func (m *Metrics) RecordDisconnected() {
	m.disconnections.Inc()
}

// RecordFrameReceived increments the received counter for a message type
func (m *Metrics) RecordFrameReceived(messageType string) {
	m.framesReceived.WithLabelValues(messageType).Inc()
}

// RecordMessagesSent adds n to the sent counter for a message type
func (m *Metrics) RecordMessagesSent(messageType string, n int) {
	m.messagesSent.WithLabelValues(messageType).Add(float64(n))
}

// RecordDecodeError increments the decode error counter for err's kind
func (m *Metrics) RecordDecodeError(err error) {
	m.decodeErrors.WithLabelValues(decodeErrorKind(err)).Inc()
}

// RecordFrameDropped increments the dropped frame counter
func (m *Metrics) RecordFrameDropped(reason string) {
	m.framesDropped.WithLabelValues(reason).Inc()
}

// RecordBroadcast records fanout, duration and failures for one broadcast
func (m *Metrics) RecordBroadcast(result BroadcastResult, durationSeconds float64) {
	m.broadcastFanout.Observe(float64(result.Recipients))
	m.broadcastDuration.Observe(durationSeconds)
	m.writeFailures.Add(float64(result.Failed))
}

// decodeErrorKind maps a decode error to a metric label
func decodeErrorKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, protocol.ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return "too_large"
	case errors.Is(err, protocol.ErrInvalidEncoding):
		return "encoding"
	case errors.Is(err, protocol.ErrCorruptFrame):
		return "corrupt"
	case errors.Is(err, protocol.ErrTruncatedFrame):
		return "truncated"
	default:
		return "other"
	}
}
