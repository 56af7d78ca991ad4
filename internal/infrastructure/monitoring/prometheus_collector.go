package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes relay metrics: live connections, live channels and the
// volume of forwarded signaling by operation.
type Collector struct {
	connectionsActive prometheus.Gauge
	channelsActive    prometheus.Gauge
	signalsForwarded  *prometheus.CounterVec
	deliveryFailures  *prometheus.CounterVec
}

// NewCollector registers the relay metrics with reg. Pass a fresh registry in
// tests to avoid duplicate-registration panics.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicehub_connections_active",
			Help: "Number of live signaling connections",
		}),
		channelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicehub_channels_active",
			Help: "Number of voice channels with at least one member",
		}),
		signalsForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicehub_signals_forwarded_total",
			Help: "Signaling messages forwarded, by operation",
		}, []string{"op"}),
		deliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicehub_delivery_failures_total",
			Help: "Signaling messages that could not be delivered, by operation",
		}, []string{"op"}),
	}
}

func (c *Collector) ConnectionOpened() {
	c.connectionsActive.Inc()
}

func (c *Collector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

func (c *Collector) SignalForwarded(op string) {
	c.signalsForwarded.WithLabelValues(op).Inc()
}

func (c *Collector) DeliveryFailed(op string) {
	c.deliveryFailures.WithLabelValues(op).Inc()
}

func (c *Collector) SetActiveChannels(n int) {
	c.channelsActive.Set(float64(n))
}
