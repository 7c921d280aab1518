// Package metrics holds the Prometheus counters shared by the services and
// the handler that exposes them.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carrental-backend/internal/domain"
)

var (
	// RentalOperations counts rental create/return attempts by outcome.
	RentalOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carrental_rental_operations_total",
			Help: "Rental lifecycle operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	InventoryAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carrental_inventory_adjustments_total",
			Help: "Inventory counter adjustments by operation and result",
		},
		[]string{"operation", "result"},
	)

	// PaymentTransitions counts committed payment status changes.
	PaymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carrental_payment_transitions_total",
			Help: "Payment status transitions by payment type and new status",
		},
		[]string{"type", "status"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carrental_webhook_events_total",
			Help: "Payment gateway webhook deliveries by event type and result",
		},
		[]string{"event_type", "result"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carrental_notifications_total",
			Help: "Notifications handed to the sink by type and result",
		},
		[]string{"type", "result"},
	)
)

// Result turns an operation error into a low-cardinality label value.
func Result(err error) string {
	if err == nil {
		return "success"
	}
	if kind := domain.KindOf(err); kind != "" {
		return strings.ToLower(string(kind))
	}
	return "error"
}

func Handler() http.Handler {
	return promhttp.Handler()
}
