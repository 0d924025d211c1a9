// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection / session metrics
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_connections_total",
		Help: "Total number of WebSocket sessions admitted",
	})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_connections_rejected_total",
		Help: "Total connection attempts refused, by reason",
	}, []string{"reason"})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rt_sessions_active",
		Help: "Current number of live sessions on this process",
	})

	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rt_rooms_active",
		Help: "Current number of non-empty rooms on this process",
	})

	DisconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_disconnects_total",
		Help: "Total session teardowns, by reason",
	}, []string{"reason"})

	HeartbeatReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_heartbeat_reaped_total",
		Help: "Total sessions reaped by the heartbeat monitor",
	})

	// Delivery metrics
	EventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_events_delivered_total",
		Help: "Total events delivered to local sessions, by kind",
	}, []string{"kind"})

	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_events_dropped_total",
		Help: "Total events dropped, by reason",
	}, []string{"reason"})

	SlowClientsDisconnected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_slow_clients_disconnected_total",
		Help: "Total sessions disconnected for a persistently full send buffer",
	})

	// Inbound protocol metrics
	MalformedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_malformed_frames_total",
		Help: "Total inbound frames rejected as malformed",
	})

	UnknownKinds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_unknown_event_kinds_total",
		Help: "Total inbound frames ignored for carrying an unknown event kind",
	})

	RateLimitedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_rate_limited_frames_total",
		Help: "Total inbound frames dropped by the per-session rate limiter",
	})

	// Bridge metrics
	BridgePublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_bridge_published_total",
		Help: "Total envelopes published to the broadcast bus",
	})

	BridgeReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_bridge_received_total",
		Help: "Total envelopes received from the broadcast bus",
	})

	BridgeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_bridge_errors_total",
		Help: "Total broadcast bus failures, by operation",
	}, []string{"op"})

	BridgeConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rt_bridge_connected",
		Help: "Broadcast bus connection status (1=connected, 0=disconnected)",
	})

	// Presence metrics
	PresenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_presence_transitions_total",
		Help: "Total presence transitions emitted, by status",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(ConnectionsRejected)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(RoomsActive)
	prometheus.MustRegister(DisconnectsTotal)
	prometheus.MustRegister(HeartbeatReaped)

	prometheus.MustRegister(EventsDelivered)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(SlowClientsDisconnected)

	prometheus.MustRegister(MalformedFrames)
	prometheus.MustRegister(UnknownKinds)
	prometheus.MustRegister(RateLimitedFrames)

	prometheus.MustRegister(BridgePublished)
	prometheus.MustRegister(BridgeReceived)
	prometheus.MustRegister(BridgeErrors)
	prometheus.MustRegister(BridgeConnected)

	prometheus.MustRegister(PresenceTransitions)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
