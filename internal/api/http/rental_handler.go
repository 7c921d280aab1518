package http

import (
	"net/http"

	"carrental-backend/internal/service"
)

type RentalHandler struct {
	rentals service.RentalService
}

func NewRentalHandler(rentals service.RentalService) *RentalHandler {
	return &RentalHandler{rentals: rentals}
}

type createRentalRequest struct {
	CarID      int64  `json:"car_id"`
	ReturnDate string `json:"return_date"`
}

// CreateRental handles POST /api/v1/rentals
func (h *RentalHandler) CreateRental(w http.ResponseWriter, r *http.Request) {
	var req createRentalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.CarID <= 0 {
		writeBadRequest(w, "car_id is required")
		return
	}
	returnDate, err := parseDate(req.ReturnDate)
	if err != nil {
		writeBadRequest(w, "return_date must be YYYY-MM-DD")
		return
	}

	rental, err := h.rentals.CreateRental(r.Context(), caller(r).UserID, req.CarID, returnDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rental)
}

// ReturnRental handles POST /api/v1/rentals/{id}/return
func (h *RentalHandler) ReturnRental(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	result, err := h.rentals.ReturnRental(r.Context(), caller(r).UserID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetRental handles GET /api/v1/rentals/{id}
func (h *RentalHandler) GetRental(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rental, err := h.rentals.GetRental(r.Context(), caller(r).UserID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rental)
}

// ListRentals handles GET /api/v1/rentals?active=true
func (h *RentalHandler) ListRentals(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	rentals, err := h.rentals.ListRentals(r.Context(), caller(r).UserID, activeOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rentals": rentals})
}
