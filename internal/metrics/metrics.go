// Package metrics provides Prometheus instrumentation for the chat client
// engine. It exposes gauges for presence and typing state, counters for
// message reconciliation outcomes and broadcast traffic, and a histogram for
// store write latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OnlineUsers tracks the size of the current presence snapshot.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatclient_online_users",
		Help: "Number of users in the latest presence snapshot",
	})

	// TypingUsers tracks the number of peers currently marked as typing.
	TypingUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatclient_typing_users",
		Help: "Number of peers currently marked as typing",
	})

	// MessagesTotal counts message reconciliation outcomes, labeled by
	// result: "sent", "confirmed", "rolled_back", or "deduped".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatclient_messages_total",
		Help: "Message reconciliation outcomes",
	}, []string{"result"})

	// BroadcastsTotal counts realtime broadcasts, labeled by event name and
	// direction ("in" or "out").
	BroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatclient_broadcasts_total",
		Help: "Realtime broadcast events processed",
	}, []string{"event", "direction"})

	// SendLatency records the duration of the asynchronous store write that
	// backs an optimistic send.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatclient_send_latency_seconds",
		Help:    "Store write latency for optimistic sends",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})
)

func init() {
	prometheus.MustRegister(
		OnlineUsers,
		TypingUsers,
		MessagesTotal,
		BroadcastsTotal,
		SendLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
