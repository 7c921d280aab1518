package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"carrental-backend/internal/gateway/sandbox"
	"carrental-backend/internal/metrics"
	"carrental-backend/internal/security"
	"carrental-backend/internal/service"
)

// RouterDeps holds everything the REST surface needs. Sandbox is set only
// when the in-process gateway is in use.
type RouterDeps struct {
	Tokens        security.TokenManager
	Inventory     service.InventoryService
	Rentals       service.RentalService
	Payments      service.PaymentService
	WebhookSecret string
	Dedup         Deduplicator
	Sandbox       *sandbox.Gateway
}

func NewRouter(deps RouterDeps) *mux.Router {
	router := mux.NewRouter()
	router.Use(LoggingMiddleware)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	payments := NewPaymentHandler(deps.Payments)
	webhooks := NewWebhookHandler(deps.Payments, deps.WebhookSecret, deps.Dedup)
	router.HandleFunc("/webhooks/stripe", webhooks.HandleStripe).Methods(http.MethodPost)

	// Gateway redirect targets carry no bearer token.
	router.HandleFunc("/api/v1/payments/success", payments.Success).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/payments/cancel", payments.Cancel).Methods(http.MethodGet)

	if deps.Sandbox != nil {
		checkout := NewSandboxHandler(deps.Sandbox, deps.Payments)
		router.HandleFunc("/checkout/{id}", checkout.Show).Methods(http.MethodGet)
		router.HandleFunc("/checkout/{id}/complete", checkout.Complete).Methods(http.MethodPost)
		router.HandleFunc("/checkout/{id}/expire", checkout.Expire).Methods(http.MethodPost)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(AuthMiddleware(deps.Tokens))

	rentals := NewRentalHandler(deps.Rentals)
	api.HandleFunc("/rentals", rentals.CreateRental).Methods(http.MethodPost)
	api.HandleFunc("/rentals", rentals.ListRentals).Methods(http.MethodGet)
	api.HandleFunc("/rentals/{id:[0-9]+}", rentals.GetRental).Methods(http.MethodGet)
	api.HandleFunc("/rentals/{id:[0-9]+}/return", rentals.ReturnRental).Methods(http.MethodPost)

	cars := NewCarHandler(deps.Inventory)
	api.HandleFunc("/cars/{id:[0-9]+}/availability", cars.GetAvailability).Methods(http.MethodGet)
	api.HandleFunc("/cars/{id:[0-9]+}/inventory", cars.AdjustInventory).Methods(http.MethodPut)

	api.HandleFunc("/payments", payments.CreateSession).Methods(http.MethodPost)
	api.HandleFunc("/payments", payments.GetPayment).Methods(http.MethodGet)
	api.HandleFunc("/payments/renew", payments.RenewSession).Methods(http.MethodPost)

	return router
}
