package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"carrental-backend/internal/gateway/sandbox"
	"carrental-backend/internal/service"
)

// SandboxHandler plays the hosted checkout page for the sandbox gateway:
// completing a session delivers the same success signal a webhook would.
type SandboxHandler struct {
	gateway  *sandbox.Gateway
	payments service.PaymentService
}

func NewSandboxHandler(gateway *sandbox.Gateway, payments service.PaymentService) *SandboxHandler {
	return &SandboxHandler{gateway: gateway, payments: payments}
}

// Show handles GET /checkout/{id}
func (h *SandboxHandler) Show(w http.ResponseWriter, r *http.Request) {
	session, err := h.gateway.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: errorBody{Code: "SESSION_NOT_FOUND", Message: err.Error()}})
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// Complete handles POST /checkout/{id}/complete
func (h *SandboxHandler) Complete(w http.ResponseWriter, r *http.Request) {
	meta, err := h.gateway.Complete(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: errorBody{Code: "SESSION_NOT_PAYABLE", Message: err.Error()}})
		return
	}
	payment, err := h.payments.HandlePaymentSuccess(r.Context(), meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// Expire handles POST /checkout/{id}/expire
func (h *SandboxHandler) Expire(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.gateway.Expire(id); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: errorBody{Code: "SESSION_NOT_FOUND", Message: err.Error()}})
		return
	}
	expired, err := h.payments.ExpireSession(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"expired": expired})
}
