package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the relay's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	connectionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tropichat",
		Subsystem: "relay",
		Name:      "connections_open",
		Help:      "Connections currently held by the relay.",
	})

	usersJoined = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tropichat",
		Subsystem: "relay",
		Name:      "users_joined",
		Help:      "Connections currently in joined state.",
	})

	messagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tropichat",
		Subsystem: "relay",
		Name:      "messages_total",
		Help:      "Chat messages persisted and broadcast.",
	})

	joinRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tropichat",
		Subsystem: "relay",
		Name:      "join_rejections_total",
		Help:      "Join requests refused, by reason.",
	}, []string{"reason"})

	droppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tropichat",
		Subsystem: "relay",
		Name:      "dropped_events_total",
		Help:      "Outbound events dropped because a connection's queue was full or closed.",
	})
)

func init() {
	Registry.MustRegister(
		connectionsOpen,
		usersJoined,
		messagesTotal,
		joinRejections,
		droppedEvents,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

func SetConnections(n int) { connectionsOpen.Set(float64(n)) }

func SetJoined(n int) { usersJoined.Set(float64(n)) }

func RecordMessage() { messagesTotal.Inc() }

func RecordJoinRejected(reason string) { joinRejections.WithLabelValues(reason).Inc() }

func RecordDropped() { droppedEvents.Inc() }

// Handler exposes the registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
