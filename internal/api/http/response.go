// Package http exposes the rental, payment and inventory operations over
// REST and receives payment gateway webhooks.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
)

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	SessionURL string `json:"session_url,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", "error", err)
	}
}

// statusFor maps a business error kind onto an HTTP status.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindIntegrityViolation:
		return http.StatusUnprocessableEntity
	case domain.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Code: domain.CodeOf(err), Message: err.Error()}
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body = errorBody{Code: "INTERNAL", Message: "internal server error"}
	}
	var pending *domain.PendingPaymentError
	if errors.As(err, &pending) {
		body.SessionURL = pending.SessionURL
	}
	writeJSON(w, status, errorResponse{Error: body})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{Code: domain.ErrInvalidInput.Code, Message: message}})
}
