package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Roles for the "role" label. A process may run both a server and clients
// (the loadtest does), so every transport metric is split by role.
const (
	RoleServer = "server"
	RoleClient = "client"
)

// Disconnect reasons for tcp_disconnects_total.
const (
	DisconnectReasonReadError         = "read_error"
	DisconnectReasonHeaderAttack      = "header_attack"
	DisconnectReasonPeerClosed        = "peer_closed"
	DisconnectReasonReceiveQueueLimit = "receive_queue_limit"
	DisconnectReasonSendQueueLimit    = "send_queue_limit"
	DisconnectReasonWriteError        = "write_error"
	DisconnectReasonKicked            = "kicked"
	DisconnectReasonServerShutdown    = "server_shutdown"
	DisconnectReasonClientInitiated   = "client_initiated"
	DisconnectReasonConnectFailed     = "connect_failed"
)

// Prometheus metrics for the TCP transport
var (
	// Connection metrics
	ConnectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tcp_connections_total",
		Help: "Total number of TCP connections established",
	}, []string{"role"})

	ConnectionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tcp_connections_active",
		Help: "Current number of open TCP connections",
	}, []string{"role"})

	DisconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tcp_disconnects_total",
		Help: "Total disconnections by role and reason",
	}, []string{"role", "reason"})

	ConnectionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tcp_connection_duration_seconds",
		Help:    "Connection duration before disconnect",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
	}, []string{"role"})

	// Message metrics
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tcp_messages_sent_total",
		Help: "Total number of framed messages written",
	}, []string{"role"})

	MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tcp_messages_received_total",
		Help: "Total number of framed messages read",
	}, []string{"role"})

	BytesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tcp_bytes_sent_total",
		Help: "Total wire bytes written, headers included",
	}, []string{"role"})

	BytesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tcp_bytes_received_total",
		Help: "Total wire bytes read, headers included",
	}, []string{"role"})

	WriteBatchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tcp_write_batch_messages",
		Help:    "Messages coalesced into a single socket write",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 1024},
	}, []string{"role"})

	// Protection metrics
	HeaderAttacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tcp_header_attacks_total",
		Help: "Frames rejected for a zero or oversized length header",
	}, []string{"role"})

	QueueOverflowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tcp_queue_overflows_total",
		Help: "Connections closed because a per-connection queue hit its limit",
	}, []string{"role", "direction"})

	ReceivePipeDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tcp_receive_pipe_depth",
		Help: "Events waiting to be delivered by Tick",
	}, []string{"role"})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tcp_connections_rejected_total",
		Help: "Connections dropped by admission control",
	}, []string{"reason"})

	// System metrics
	CpuUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tcp_cpu_usage_percent",
		Help: "Process CPU usage percentage",
	})

	MemoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tcp_memory_bytes",
		Help: "Process resident set size in bytes",
	})

	GoroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tcp_goroutines_active",
		Help: "Current number of active goroutines",
	})

	// Bridge metrics
	BridgeConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tcp_nats_connected",
		Help: "NATS bridge status (1=connected, 0=disconnected)",
	})

	BridgeMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tcp_nats_messages_total",
		Help: "Messages relayed through the NATS bridge",
	}, []string{"direction"})

	BridgeMessagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tcp_nats_messages_dropped_total",
		Help: "Outbound NATS messages dropped because the relay buffer was full",
	})
)

func init() {
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(DisconnectsTotal)
	prometheus.MustRegister(ConnectionDuration)

	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(BytesSent)
	prometheus.MustRegister(BytesReceived)
	prometheus.MustRegister(WriteBatchSize)

	prometheus.MustRegister(HeaderAttacksTotal)
	prometheus.MustRegister(QueueOverflowsTotal)
	prometheus.MustRegister(ReceivePipeDepth)
	prometheus.MustRegister(ConnectionsRejected)

	prometheus.MustRegister(CpuUsagePercent)
	prometheus.MustRegister(MemoryUsageBytes)
	prometheus.MustRegister(GoroutinesActive)

	prometheus.MustRegister(BridgeConnected)
	prometheus.MustRegister(BridgeMessagesTotal)
	prometheus.MustRegister(BridgeMessagesDropped)
}

// RecordConnect counts a newly established connection.
func RecordConnect(role string) {
	ConnectionsTotal.WithLabelValues(role).Inc()
	ConnectionsActive.WithLabelValues(role).Inc()
}

// RecordDisconnect counts a closed connection. durationSeconds is zero for
// connections that never got established.
func RecordDisconnect(role, reason string, durationSeconds float64) {
	DisconnectsTotal.WithLabelValues(role, reason).Inc()
	if durationSeconds > 0 {
		ConnectionsActive.WithLabelValues(role).Dec()
		ConnectionDuration.WithLabelValues(role).Observe(durationSeconds)
	}
}

// UpdateMessageMetrics updates message-related metrics
func UpdateMessageMetrics(role string, sent, received int) {
	if sent > 0 {
		MessagesSent.WithLabelValues(role).Add(float64(sent))
		WriteBatchSize.WithLabelValues(role).Observe(float64(sent))
	}
	if received > 0 {
		MessagesReceived.WithLabelValues(role).Add(float64(received))
	}
}

// UpdateBytesMetrics updates bytes sent/received metrics
func UpdateBytesMetrics(role string, sent, received int) {
	if sent > 0 {
		BytesSent.WithLabelValues(role).Add(float64(sent))
	}
	if received > 0 {
		BytesReceived.WithLabelValues(role).Add(float64(received))
	}
}

// IncrementHeaderAttacks counts a rejected frame header.
func IncrementHeaderAttacks(role string) {
	HeaderAttacksTotal.WithLabelValues(role).Inc()
}

// IncrementQueueOverflow counts a connection closed for backpressure.
// direction is "send" or "receive".
func IncrementQueueOverflow(role, direction string) {
	QueueOverflowsTotal.WithLabelValues(role, direction).Inc()
}

// UpdateReceivePipeDepth publishes the number of undelivered events.
func UpdateReceivePipeDepth(role string, depth int) {
	ReceivePipeDepth.WithLabelValues(role).Set(float64(depth))
}

// IncrementConnectionsRejected counts a connection refused by admission control.
func IncrementConnectionsRejected(reason string) {
	ConnectionsRejected.WithLabelValues(reason).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
