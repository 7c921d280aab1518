package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/metrics"
	"carrental-backend/internal/repository"
	"carrental-backend/internal/utils"
)

type rentalService struct {
	store     repository.Store
	inventory InventoryService
	access    AccessChecker
	notifier  Notifier
	policy    RentalPolicy
	clock     Clock
}

func NewRentalService(
	store repository.Store,
	inventory InventoryService,
	access AccessChecker,
	notifier Notifier,
	policy RentalPolicy,
	clock Clock,
) RentalService {
	if clock == nil {
		clock = SystemClock
	}
	return &rentalService{
		store:     store,
		inventory: inventory,
		access:    access,
		notifier:  notifier,
		policy:    policy,
		clock:     clock,
	}
}

func (s *rentalService) today() time.Time {
	return utils.DateOnly(s.clock())
}

func (s *rentalService) validateDates(today, returnDate time.Time) error {
	days := utils.DaysBetween(today, returnDate)
	if days <= 0 {
		return fmt.Errorf("%w: return date must be after today", domain.ErrInvalidRentalDates)
	}
	if days < s.policy.MinDays {
		return fmt.Errorf("%w: rental must last at least %d days", domain.ErrInvalidRentalDates, s.policy.MinDays)
	}
	if days > s.policy.MaxDays {
		return fmt.Errorf("%w: rental must not exceed %d days", domain.ErrInvalidRentalDates, s.policy.MaxDays)
	}
	return nil
}

func (s *rentalService) CreateRental(ctx context.Context, userID, carID int64, returnDate time.Time) (rental *domain.Rental, err error) {
	logger.EnterMethod("rentalService.CreateRental", "userID", userID, "carID", carID, "returnDate", returnDate)
	defer func() {
		metrics.RentalOperations.WithLabelValues("create", metrics.Result(err)).Inc()
		if err != nil {
			logger.ExitMethodWithError("rentalService.CreateRental", err, "userID", userID, "carID", carID)
		}
	}()

	today := s.today()
	expected := utils.DateOnly(returnDate)
	if err := s.validateDates(today, expected); err != nil {
		return nil, err
	}

	car, err := s.inventory.GetAvailability(ctx, carID)
	if err != nil {
		return nil, err
	}
	if !car.IsAvailable() {
		return nil, domain.ErrCarNotAvailable
	}

	pending, err := s.store.Payments().ExistsPendingForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, domain.ErrPendingPaymentsExist
	}

	rental = &domain.Rental{
		UserID:     userID,
		CarID:      carID,
		RentalDate: today,
		ReturnDate: expected,
	}

	// The pre-check above can race; the locked decrement is authoritative.
	var cost decimal.Decimal
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Rentals().Create(ctx, rental); err != nil {
			return err
		}
		locked, err := s.inventory.AdjustInTx(ctx, tx, carID, 1, domain.InventoryDecrease)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientInventory) {
				return fmt.Errorf("%w: %w", domain.ErrCarNotAvailable, err)
			}
			return err
		}
		cost, err = utils.BaseCost(locked.DailyFee, rental)
		return err
	})
	if err != nil {
		return nil, err
	}

	notify(ctx, s.notifier, domain.Notification{
		Type:       domain.NotificationRentalCreated,
		UserID:     userID,
		RentalID:   rental.ID,
		CarID:      carID,
		Amount:     cost,
		ReturnDate: &rental.ReturnDate,
		OccurredAt: s.clock(),
	})

	logger.ExitMethod("rentalService.CreateRental", "rentalID", rental.ID)
	return rental, nil
}

func (s *rentalService) ReturnRental(ctx context.Context, userID, rentalID int64) (result *domain.RentalReturn, err error) {
	logger.EnterMethod("rentalService.ReturnRental", "userID", userID, "rentalID", rentalID)
	defer func() {
		metrics.RentalOperations.WithLabelValues("return", metrics.Result(err)).Inc()
		if err != nil {
			logger.ExitMethodWithError("rentalService.ReturnRental", err, "userID", userID, "rentalID", rentalID)
		}
	}()

	today := s.today()
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		rental, err := tx.Rentals().GetByIDForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		if err := s.checkAccess(ctx, tx.Users(), userID, rental); err != nil {
			return err
		}
		if rental.IsReturned() {
			return domain.ErrAlreadyReturned
		}

		if err := tx.Rentals().MarkReturned(ctx, rentalID, today); err != nil {
			return err
		}
		if err := rental.MarkReturned(today); err != nil {
			return err
		}

		car, err := s.inventory.AdjustInTx(ctx, tx, rental.CarID, 1, domain.InventoryIncrease)
		if err != nil {
			return err
		}

		payments, err := tx.Payments().ListByRental(ctx, rentalID)
		if err != nil {
			return err
		}
		result, err = utils.ReturnBreakdown(car.DailyFee, rental, payments)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.ExitMethod("rentalService.ReturnRental", "rentalID", rentalID, "total", result.Total, "due", result.AmountDue)
	return result, nil
}

func (s *rentalService) checkAccess(ctx context.Context, users repository.UserRepository, userID int64, rental *domain.Rental) error {
	ok, err := s.access.CanAccessRental(ctx, users, userID, rental)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrForbidden
	}
	return nil
}

func (s *rentalService) GetRental(ctx context.Context, userID, rentalID int64) (*domain.Rental, error) {
	rental, err := s.store.Rentals().GetByID(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccess(ctx, s.store.Users(), userID, rental); err != nil {
		return nil, err
	}
	return rental, nil
}

func (s *rentalService) ListRentals(ctx context.Context, userID int64, activeOnly bool) ([]domain.Rental, error) {
	return s.store.Rentals().ListByUser(ctx, userID, activeOnly)
}

// NotifyOverdueRentals emits one notification per active rental past its
// expected return date and reports how many were sent.
func (s *rentalService) NotifyOverdueRentals(ctx context.Context, limit int) (int, error) {
	logger.EnterMethod("rentalService.NotifyOverdueRentals", "limit", limit)

	today := s.today()
	rentals, err := s.store.Rentals().ListOverdue(ctx, today, limit)
	if err != nil {
		logger.ExitMethodWithError("rentalService.NotifyOverdueRentals", err)
		return 0, err
	}

	for i := range rentals {
		rt := rentals[i]
		notify(ctx, s.notifier, domain.Notification{
			Type:        domain.NotificationOverdueRental,
			UserID:      rt.UserID,
			RentalID:    rt.ID,
			CarID:       rt.CarID,
			ReturnDate:  &rt.ReturnDate,
			DaysOverdue: utils.DaysOverdue(rt.ReturnDate, today),
			OccurredAt:  s.clock(),
		})
	}

	logger.ExitMethod("rentalService.NotifyOverdueRentals", "count", len(rentals))
	return len(rentals), nil
}
