package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsLive tracks the number of currently connected clients.
	ConnectionsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kraken_connections_live",
			Help: "Number of currently connected clients",
		},
	)
	// ConnectionsTotal counts accepted and refused connections.
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kraken_connections_total",
			Help: "Total number of connection attempts",
		},
		[]string{"status"},
	)
	// MessagesPublished counts publish entries received from clients.
	MessagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kraken_messages_published_total",
			Help: "Total number of published message entries",
		},
	)
	// MessagesDelivered counts enqueues into subscriber mailboxes.
	MessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kraken_messages_delivered_total",
			Help: "Total number of messages enqueued into mailboxes",
		},
	)
	// FanoutWarnings counts publishes whose fan-out crossed the warn threshold.
	FanoutWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kraken_fanout_warnings_total",
			Help: "Total number of fan-out warnings",
		},
	)
)
