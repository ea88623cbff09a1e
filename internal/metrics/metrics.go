// Package metrics exposes Prometheus instrumentation for the chat core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveConnections counts connections currently in the Active state.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomcast_active_connections",
		Help: "Connections currently attached to a room.",
	})

	// LaggingConnections counts connections whose outbound queue overflowed.
	LaggingConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomcast_lagging_connections",
		Help: "Attached connections marked as lagging.",
	})

	// MessagesDelivered counts events enqueued to recipient connections.
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_messages_delivered_total",
		Help: "Room messages enqueued to recipient connections.",
	})

	// OverflowDrops counts events discarded due to full outbound queues.
	OverflowDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_overflow_drops_total",
		Help: "Events dropped because a recipient queue was full.",
	})

	// AttachRejections counts failed attach attempts by error code.
	AttachRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomcast_attach_rejections_total",
		Help: "Rejected connection attach attempts.",
	}, []string{"code"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
