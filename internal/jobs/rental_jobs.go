package jobs

import (
	"context"

	"carrental-backend/internal/logger"
)

// NotifyOverdueRentals sends a reminder for every active rental past its
// expected return date.
func (jr *JobRunner) NotifyOverdueRentals() {
	jr.runWithRecovery("NotifyOverdueRentals", func(ctx context.Context) error {
		count, err := jr.services.Rental.NotifyOverdueRentals(ctx, jr.config.Scheduler.BatchSize)
		if err != nil {
			return err
		}
		logger.Info("Sent overdue rental reminders", "count", count)
		return nil
	})
}
