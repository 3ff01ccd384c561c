package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Relay collectors. Label values come from small closed sets (operation
// names, result enums) so cardinality stays bounded.
var (
	// NotificationsTotal counts dispatcher operations by outcome.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderrelay_notifications_total",
			Help: "Notification dispatcher operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	// InteractionsTotal counts inbound button presses by final outcome.
	InteractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderrelay_interactions_total",
			Help: "Inbound order interactions by outcome.",
		},
		[]string{"outcome"},
	)

	// SweepOrdersTotal counts orders visited by the reconciliation sweeper.
	SweepOrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderrelay_sweep_orders_total",
			Help: "Orders visited by the reconciliation sweeper, by result.",
		},
		[]string{"result"},
	)

	// SweepDuration records how long a full sweep takes.
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderrelay_sweep_duration_seconds",
			Help:    "Duration of reconciliation sweeps in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
)

func init() {
	prometheus.MustRegister(NotificationsTotal, InteractionsTotal, SweepOrdersTotal, SweepDuration)
}

// ObserveNotification records one dispatcher operation.
func ObserveNotification(op, result string) {
	NotificationsTotal.WithLabelValues(op, result).Inc()
}

// ObserveInteraction records the outcome of one interaction.
func ObserveInteraction(outcome string) {
	InteractionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSweepOrder records the result for one order of a sweep.
func ObserveSweepOrder(result string) {
	SweepOrdersTotal.WithLabelValues(result).Inc()
}

// ObserveSweep records the duration of a finished sweep.
func ObserveSweep(start time.Time) {
	SweepDuration.Observe(time.Since(start).Seconds())
}
