package observ

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Live channel
	ConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stationchat_ws_connections_open",
			Help: "Open websocket connections, authenticated or not",
		},
	)

	IdentitiesOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stationchat_identities_online",
			Help: "Identities currently held in the connection registry",
		},
	)

	EnvelopesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationchat_envelopes_received_total",
			Help: "Inbound envelopes by kind",
		},
		[]string{"kind"},
	)

	HandshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationchat_handshakes_total",
			Help: "Auth handshakes by result",
		},
		[]string{"result"}, // "success" or "error"
	)

	// Deliveries counts socket writes by scope; "dropped" counts envelopes
	// discarded because a connection's send buffer was full.
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationchat_deliveries_total",
			Help: "Outbound envelope deliveries",
		},
		[]string{"scope", "outcome"},
	)

	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationchat_operation_errors_total",
			Help: "operation_error replies by reason class",
		},
		[]string{"reason"},
	)

	PersistLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stationchat_persist_latency_seconds",
			Help:    "Latency of message persistence calls",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"scope"},
	)
)
