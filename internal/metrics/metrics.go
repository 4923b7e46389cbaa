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

// Metrics holds Prometheus metrics for the pushwire client
type Metrics struct {
	// Connection metrics
	ConnectAttemptsTotal     prometheus.Counter
	ReconnectsScheduledTotal prometheus.Counter
	RetriesExhaustedTotal    prometheus.Counter
	StaleConnectionsTotal    prometheus.Counter
	ConnectionUp             prometheus.Gauge

	// Frame metrics
	FramesSentTotal     *prometheus.CounterVec
	FramesReceivedTotal *prometheus.CounterVec
	FramesDroppedTotal  *prometheus.CounterVec
	SendsDroppedTotal   *prometheus.CounterVec

	// Dispatch metrics
	NotificationsDistributedTotal prometheus.Counter
	SubscriberPanicsTotal         prometheus.Counter
	EventSubscribers              prometheus.Gauge
	StatusSubscribers             prometheus.Gauge

	// Keepalive metrics
	KeepalivePingsTotal prometheus.Counter
	KeepalivePongsTotal prometheus.Counter
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

	// Connection metrics
	m.ConnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushwire_connect_attempts_total",
			Help: "Total number of connection attempts",
		},
	)

	m.ReconnectsScheduledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushwire_reconnects_scheduled_total",
			Help: "Total number of reconnect attempts scheduled",
		},
	)

	m.RetriesExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushwire_retries_exhausted_total",
			Help: "Total number of times the reconnect attempt budget ran out",
		},
	)

	m.StaleConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushwire_stale_connections_total",
			Help: "Total number of connections dropped for unanswered pings",
		},
	)

	m.ConnectionUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pushwire_connection_up",
			Help: "Whether the connection to the push server is established",
		},
	)

	// Frame metrics
	m.FramesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushwire_frames_sent_total",
			Help: "Total number of frames sent",
		},
		[]string{"kind"},
	)

	m.FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushwire_frames_received_total",
			Help: "Total number of frames received",
		},
		[]string{"kind"},
	)

	m.FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushwire_frames_dropped_total",
			Help: "Total number of inbound frames dropped",
		},
		[]string{"reason"},
	)

	m.SendsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushwire_sends_dropped_total",
			Help: "Total number of outbound frames dropped before transmission",
		},
		[]string{"reason"},
	)

	// Dispatch metrics
	m.NotificationsDistributedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushwire_notifications_distributed_total",
			Help: "Total number of notification deliveries to subscribers",
		},
	)

	m.SubscriberPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushwire_subscriber_panics_total",
			Help: "Total number of panics recovered from subscriber callbacks",
		},
	)

	m.EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pushwire_event_subscribers",
			Help: "Number of registered notification subscribers",
		},
	)

	m.StatusSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pushwire_status_subscribers",
			Help: "Number of registered status subscribers",
		},
	)

	// Keepalive metrics
	m.KeepalivePingsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushwire_keepalive_pings_total",
			Help: "Total number of keepalive pings sent",
		},
	)

	m.KeepalivePongsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushwire_keepalive_pongs_total",
			Help: "Total number of pongs received from the server",
		},
	)

	return m
}
