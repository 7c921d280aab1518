package service

import (
	"context"
	"fmt"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/metrics"
	"carrental-backend/internal/repository"
)

type inventoryService struct {
	store repository.Store
}

func NewInventoryService(store repository.Store) InventoryService {
	return &inventoryService{store: store}
}

func (s *inventoryService) Adjust(ctx context.Context, carID int64, quantity int, op domain.InventoryOperation) (*domain.Car, error) {
	logger.EnterMethod("inventoryService.Adjust", "carID", carID, "quantity", quantity, "op", op)

	var car *domain.Car
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		car, err = s.AdjustInTx(ctx, tx, carID, quantity, op)
		return err
	})
	if err != nil {
		logger.ExitMethodWithError("inventoryService.Adjust", err, "carID", carID)
		return nil, err
	}

	logger.ExitMethod("inventoryService.Adjust", "carID", carID, "inventory", car.Inventory)
	return car, nil
}

// AdjustInTx locks the car row, applies op and writes the new counter. On
// failure nothing is written; the caller's rollback releases the lock.
func (s *inventoryService) AdjustInTx(ctx context.Context, tx repository.Store, carID int64, quantity int, op domain.InventoryOperation) (car *domain.Car, err error) {
	defer func() {
		metrics.InventoryAdjustments.WithLabelValues(string(op), metrics.Result(err)).Inc()
	}()

	if !op.Valid() {
		return nil, fmt.Errorf("%w: unknown inventory operation %q", domain.ErrInvalidInput, op)
	}
	if quantity < 0 {
		return nil, domain.ErrInvalidQuantity
	}

	car, err = tx.Cars().GetByIDForUpdate(ctx, carID)
	if err != nil {
		return nil, err
	}

	before := car.Inventory
	if err = car.ApplyInventory(op, quantity); err != nil {
		logger.WarnContext(ctx, "Inventory adjustment rejected", "carID", carID, "op", op, "quantity", quantity, "inventory", before, "error", err)
		return nil, err
	}
	if err = tx.Cars().UpdateInventory(ctx, carID, car.Inventory); err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "Inventory adjusted", "carID", carID, "op", op, "from", before, "to", car.Inventory)
	return car, nil
}

func (s *inventoryService) GetAvailability(ctx context.Context, carID int64) (*domain.Car, error) {
	return s.store.Cars().GetByID(ctx, carID)
}
