package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "forecasthub"

// Skip reasons for TicksSkipped.
const (
	SkipBusy      = "busy"
	SkipFeedError = "feed_error"
)

// Hub holds the broadcast collectors.
type Hub struct {
	// Connections is the current registry size.
	Connections prometheus.Gauge

	// Ticks counts broadcasts that reached fan-out.
	Ticks prometheus.Counter

	// TicksSkipped counts ticks that did not broadcast, by reason.
	TicksSkipped *prometheus.CounterVec

	// Sends counts per-connection deliveries by result (ok|error).
	Sends *prometheus.CounterVec

	// Evictions counts connections removed because they were no longer open.
	Evictions prometheus.Counter

	// TickDuration is the time from tick start until every send issued by the
	// tick has finished.
	TickDuration prometheus.Histogram
}

// New creates the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Hub {
	m := &Hub{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of registered connections",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Broadcast ticks that fanned out a payload",
		}),
		TicksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Broadcast ticks skipped, by reason",
		}, []string{"reason"}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Payload sends to individual connections, by result",
		}, []string{"result"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Connections evicted because they were closing or closed",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time from tick start until all of its sends completed",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Ticks, m.TicksSkipped, m.Sends, m.Evictions, m.TickDuration)
	}
	return m
}

// ObserveSend records the outcome of one send.
func (m *Hub) ObserveSend(err error) {
	if err != nil {
		m.Sends.WithLabelValues("error").Inc()
		return
	}
	m.Sends.WithLabelValues("ok").Inc()
}

// ObserveTick records how long a tick took to finish its fan-out.
func (m *Hub) ObserveTick(d time.Duration) {
	m.TickDuration.Observe(d.Seconds())
}

// RegisterSessions exposes count as the number of WebSocket requests being
// served. It includes requests still upgrading or rejected at the cap.
func RegisterSessions(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_sessions",
		Help:      "WebSocket requests currently being served",
	}, func() float64 { return float64(count()) }))
}
