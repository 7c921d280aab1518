package jobs

import (
	"context"

	"carrental-backend/internal/logger"
)

// ExpirePaymentSessions flips PENDING payments whose gateway session has
// expired to EXPIRED, one batch per run.
func (jr *JobRunner) ExpirePaymentSessions() {
	jr.runWithRecovery("ExpirePaymentSessions", func(ctx context.Context) error {
		expired, err := jr.services.Payment.ExpireStaleSessions(
			ctx,
			jr.config.PaymentExpiryGrace(),
			jr.config.Scheduler.BatchSize,
		)
		if err != nil {
			return err
		}
		logger.Info("Expired payment sessions", "count", expired)
		return nil
	})
}
