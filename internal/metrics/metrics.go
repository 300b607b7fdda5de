package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// singleton instance
	instance *Metrics
	once     sync.Once
)

// Metrics holds Prometheus metrics for the bridge
type Metrics struct {
	// Stream metrics
	StreamConnectsTotal   prometheus.Counter
	StreamMessagesTotal   prometheus.Counter
	SubscriptionsActive   prometheus.Gauge

	// Bot metrics
	CommandsTotal       *prometheus.CounterVec
	CommandErrorsTotal  prometheus.Counter
	RepliesRejectedAuth prometheus.Counter

	// Outbound metrics
	MessagesSentTotal *prometheus.CounterVec

	// Directory metrics
	DirectoryRefreshesTotal prometheus.Counter
	DirectoryMissesTotal    prometheus.Counter
}

// GetMetrics returns the metrics singleton
func GetMetrics() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics initializes and registers all metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	m.StreamConnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbridge_stream_connects_total",
			Help: "Total number of streaming connection attempts that completed a handshake",
		},
	)

	m.StreamMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbridge_stream_messages_total",
			Help: "Total number of inbound chat messages received",
		},
	)

	m.SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatbridge_subscriptions_active",
			Help: "Number of room subscriptions currently held",
		},
	)

	m.CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbridge_commands_total",
			Help: "Total number of bot commands dispatched",
		},
		[]string{"verb"},
	)

	m.CommandErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbridge_command_errors_total",
			Help: "Total number of unexpected errors swallowed during message handling",
		},
	)

	m.RepliesRejectedAuth = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbridge_commands_unauthorized_total",
			Help: "Total number of commands rejected for unauthorized users",
		},
	)

	m.MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbridge_messages_sent_total",
			Help: "Total number of outbound chat messages by delivery status",
		},
		[]string{"status"},
	)

	m.DirectoryRefreshesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbridge_directory_refreshes_total",
			Help: "Total number of full room directory reloads",
		},
	)

	m.DirectoryMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbridge_directory_misses_total",
			Help: "Total number of room name resolutions that found no room",
		},
	)

	return m
}
