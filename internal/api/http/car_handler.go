package http

import (
	"net/http"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/service"
)

type CarHandler struct {
	inventory service.InventoryService
}

func NewCarHandler(inventory service.InventoryService) *CarHandler {
	return &CarHandler{inventory: inventory}
}

type availabilityResponse struct {
	CarID     int64 `json:"car_id"`
	Inventory int   `json:"inventory"`
	Available bool  `json:"available"`
}

// GetAvailability handles GET /api/v1/cars/{id}/availability
func (h *CarHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	car, err := h.inventory.GetAvailability(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{CarID: car.ID, Inventory: car.Inventory, Available: car.IsAvailable()})
}

type adjustInventoryRequest struct {
	Quantity  int                       `json:"quantity"`
	Operation domain.InventoryOperation `json:"operation"`
}

// AdjustInventory handles PUT /api/v1/cars/{id}/inventory. Managers only.
func (h *CarHandler) AdjustInventory(w http.ResponseWriter, r *http.Request) {
	if caller(r).Role != domain.UserRoleManager {
		writeError(w, r, domain.ErrForbidden)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var req adjustInventoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	car, err := h.inventory.Adjust(r.Context(), id, req.Quantity, req.Operation)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, car)
}
