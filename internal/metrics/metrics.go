package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "btcwatch"

// TicksEmitted counts price ticks handed to subscribers, by feed strategy.
var TicksEmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "ticks_emitted_total",
		Help:      "Price ticks emitted by the price source",
	},
	[]string{"strategy"},
)

// TicksDropped counts payloads discarded before becoming a tick.
var TicksDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "ticks_dropped_total",
		Help:      "Feed payloads dropped because of fetch or shape errors",
	},
	[]string{"strategy", "reason"},
)

// ConnectionState exposes the stream state machine as a number (0 disconnected .. 3 failed).
var ConnectionState = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "connection_state",
		Help:      "Current stream connection state",
	},
)

// Reconnects counts scheduled stream reconnect attempts.
var Reconnects = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "Stream reconnect attempts",
	},
)

// PollingFallbacks counts transitions into the polling fallback.
var PollingFallbacks = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "polling_fallbacks_total",
		Help:      "Times the stream gave up and the source fell back to polling",
	},
)

// AlarmsFired counts alarms whose condition was met.
var AlarmsFired = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alarms",
		Name:      "fired_total",
		Help:      "Alarms fired by evaluation",
	},
	[]string{"direction", "currency"},
)

// StorageFailures counts failed alarm store cycles.
var StorageFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alarms",
		Name:      "storage_failures_total",
		Help:      "Evaluation cycles skipped because the alarm store failed",
	},
)

// NotificationsSent counts notification create calls by outcome.
var NotificationsSent = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "notifications_total",
		Help:      "Notification create calls by result",
	},
	[]string{"result"},
)

// PresencePings counts presence self-pings by outcome.
var PresencePings = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "presence",
		Name:      "pings_total",
		Help:      "Presence keeper self-pings by result",
	},
	[]string{"result"},
)
