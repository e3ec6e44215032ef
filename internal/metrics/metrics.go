// Package metrics exposes the bridge's operational counters in Prometheus
// format. All collectors live on a private registry so tests can build
// isolated instances.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slalomlive/backend/internal/protocol"
)

type Metrics struct {
	registry *prometheus.Registry

	FramesReceived   *prometheus.CounterVec
	DecodeFailures   prometheus.Counter
	MessagesAccepted *prometheus.CounterVec
	BroadcastsSent   prometheus.Counter
	ConnectedClients prometheus.Gauge
	LinkConnected    prometheus.Gauge
	LinkReconnects   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_frames_received_total",
			Help: "Timing frames received, by transport origin.",
		}, []string{"origin"}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_decode_failures_total",
			Help: "Frames that produced no recognizable timing message.",
		}),
		MessagesAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_messages_total",
			Help: "Decoded timing messages, by kind.",
		}, []string{"kind"}),
		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_broadcasts_total",
			Help: "State snapshots fanned out to scoreboard clients.",
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_connected_clients",
			Help: "Currently connected scoreboard websocket sessions.",
		}),
		LinkConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_link_connected",
			Help: "Whether the TCP timing link is up (1) or down (0).",
		}),
		LinkReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_link_reconnects_total",
			Help: "Reconnection attempts against the timing unit.",
		}),
	}

	m.registry.MustRegister(
		m.FramesReceived,
		m.DecodeFailures,
		m.MessagesAccepted,
		m.BroadcastsSent,
		m.ConnectedClients,
		m.LinkConnected,
		m.LinkReconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in Prometheus exposition format, for mounting
// at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameReceived(origin protocol.Origin) {
	m.FramesReceived.WithLabelValues(string(origin)).Inc()
}

func (m *Metrics) MessageAccepted(kind protocol.Kind) {
	m.MessagesAccepted.WithLabelValues(string(kind)).Inc()
}
