// Package metrics provides Prometheus instrumentation for the session client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectAttempts counts dial attempts, including the first.
	ConnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_connect_attempts_total",
			Help: "WebSocket dial attempts",
		},
	)

	// ConnectionState is 0 disconnected, 1 connecting, 2 open.
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefront_connection_state",
			Help: "Connection manager state (0 disconnected, 1 connecting, 2 open)",
		},
	)

	// FramesReceived counts inbound text frames.
	FramesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_frames_received_total",
			Help: "Inbound frames read from the socket",
		},
	)

	// FramesDropped counts frames the router discarded.
	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_frames_dropped_total",
			Help: "Inbound frames dropped by the router",
		},
		[]string{"reason"},
	)

	// EventsRouted counts envelopes dispatched, by type.
	EventsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_events_routed_total",
			Help: "Envelopes dispatched by the router",
		},
		[]string{"type"},
	)

	// MessagesSent counts outbound sends by result (sent, offline, error).
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_messages_sent_total",
			Help: "Outbound user messages",
		},
		[]string{"result"},
	)

	// StoreNotifications counts store notifications, by channel.
	StoreNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_store_notifications_total",
			Help: "State store notifications",
		},
		[]string{"channel"},
	)

	// HandlerPanics counts recovered handler panics, by component.
	HandlerPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_handler_panics_total",
			Help: "Recovered panics in subscriber or router handlers",
		},
		[]string{"component"},
	)

	// StreamFragments counts chat_stream paragraphs, by classification.
	StreamFragments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_stream_fragments_total",
			Help: "chat_stream paragraphs handled by the assembler",
		},
		[]string{"kind"},
	)
)
