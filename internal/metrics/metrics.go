// internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transitions counts transaction records entering a status.
var Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "paygate",
	Name:      "transitions_total",
	Help:      "Transaction records entering a status, by rail and direction.",
}, []string{"rail", "direction", "status"})

// RailCalls counts rail adapter calls by outcome (ok, refused, error).
var RailCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "paygate",
	Name:      "rail_calls_total",
	Help:      "Rail adapter calls by operation and outcome.",
}, []string{"rail", "op", "outcome"})

// RailCallDuration tracks rail adapter latency.
var RailCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "paygate",
	Name:      "rail_call_duration_seconds",
	Help:      "Rail adapter call latency.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
}, []string{"rail", "op"})

// Notifications counts notification deliveries by outcome (sent, failed, dropped).
var Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "paygate",
	Name:      "notifications_total",
	Help:      "Notification deliveries by outcome.",
}, []string{"outcome"})

// ObserveTransition records a status change.
func ObserveTransition(rail, direction, status string) {
	Transitions.WithLabelValues(rail, direction, status).Inc()
}

// ObserveRailCall records one adapter call.
func ObserveRailCall(rail, op, outcome string, elapsed time.Duration) {
	RailCalls.WithLabelValues(rail, op, outcome).Inc()
	RailCallDuration.WithLabelValues(rail, op).Observe(elapsed.Seconds())
}

// ObserveNotification records one delivery attempt.
func ObserveNotification(outcome string) {
	Notifications.WithLabelValues(outcome).Inc()
}
