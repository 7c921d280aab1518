package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/metrics"
	"carrental-backend/internal/repository"
)

type roleAccessChecker struct{}

// NewRoleAccessChecker grants access to the rental's owner and to managers.
func NewRoleAccessChecker() AccessChecker {
	return roleAccessChecker{}
}

func (roleAccessChecker) CanAccessRental(ctx context.Context, users repository.UserRepository, userID int64, rental *domain.Rental) (bool, error) {
	if rental.UserID == userID {
		return true, nil
	}
	user, err := users.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.IsPrivileged(), nil
}

// notify hands n to the sink after the business transaction committed.
// Failures are logged and dropped.
func notify(ctx context.Context, notifier Notifier, n domain.Notification) {
	if notifier == nil {
		return
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	err := notifier.Send(ctx, n)
	metrics.NotificationsSent.WithLabelValues(string(n.Type), metrics.Result(err)).Inc()
	if err != nil {
		logger.WarnContext(ctx, "Notification delivery failed", "type", n.Type, "userID", n.UserID, "rentalID", n.RentalID, "error", err)
	}
}
