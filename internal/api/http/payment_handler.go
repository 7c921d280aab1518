package http

import (
	"net/http"
	"strconv"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/service"
)

type PaymentHandler struct {
	payments service.PaymentService
}

func NewPaymentHandler(payments service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type paymentSessionRequest struct {
	RentalID int64  `json:"rental_id"`
	Type     string `json:"type"`
}

func (h *PaymentHandler) decodeSessionRequest(w http.ResponseWriter, r *http.Request) (int64, domain.PaymentType, bool) {
	var req paymentSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return 0, "", false
	}
	if req.RentalID <= 0 {
		writeBadRequest(w, "rental_id is required")
		return 0, "", false
	}
	paymentType, err := parsePaymentType(req.Type)
	if err != nil {
		writeBadRequest(w, err.Error())
		return 0, "", false
	}
	return req.RentalID, paymentType, true
}

// CreateSession handles POST /api/v1/payments
func (h *PaymentHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	rentalID, paymentType, ok := h.decodeSessionRequest(w, r)
	if !ok {
		return
	}
	payment, err := h.payments.CreatePaymentSession(r.Context(), caller(r).UserID, rentalID, paymentType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

// RenewSession handles POST /api/v1/payments/renew
func (h *PaymentHandler) RenewSession(w http.ResponseWriter, r *http.Request) {
	rentalID, paymentType, ok := h.decodeSessionRequest(w, r)
	if !ok {
		return
	}
	payment, err := h.payments.RenewPaymentSession(r.Context(), caller(r).UserID, rentalID, paymentType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

// GetPayment handles GET /api/v1/payments?rental_id=&type=
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rentalID, err := strconv.ParseInt(q.Get("rental_id"), 10, 64)
	if err != nil || rentalID <= 0 {
		writeBadRequest(w, "invalid rental_id")
		return
	}
	paymentType, err := parsePaymentType(q.Get("type"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	payment, err := h.payments.GetPayment(r.Context(), caller(r).UserID, rentalID, paymentType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// Success handles GET /api/v1/payments/success?session_id=, the page the
// gateway redirects the customer to.
func (h *PaymentHandler) Success(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeBadRequest(w, "session_id is required")
		return
	}
	payment, err := h.payments.ConfirmSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// Cancel handles GET /api/v1/payments/cancel
func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
