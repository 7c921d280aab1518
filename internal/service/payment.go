package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/metrics"
	"carrental-backend/internal/repository"
	"carrental-backend/internal/utils"
)

type paymentService struct {
	store    repository.Store
	rentals  RentalService
	gateway  PaymentGateway
	notifier Notifier
	urls     PaymentURLs
	clock    Clock
}

func NewPaymentService(
	store repository.Store,
	rentals RentalService,
	gateway PaymentGateway,
	notifier Notifier,
	urls PaymentURLs,
	clock Clock,
) PaymentService {
	if clock == nil {
		clock = SystemClock
	}
	return &paymentService{
		store:    store,
		rentals:  rentals,
		gateway:  gateway,
		notifier: notifier,
		urls:     urls,
		clock:    clock,
	}
}

func (s *paymentService) CreatePaymentSession(ctx context.Context, userID, rentalID int64, paymentType domain.PaymentType) (*domain.Payment, error) {
	return s.openSession(ctx, "paymentService.CreatePaymentSession", userID, rentalID, paymentType, false)
}

func (s *paymentService) RenewPaymentSession(ctx context.Context, userID, rentalID int64, paymentType domain.PaymentType) (*domain.Payment, error) {
	return s.openSession(ctx, "paymentService.RenewPaymentSession", userID, rentalID, paymentType, true)
}

// ownedRental hides rentals of other users behind NotFound.
func (s *paymentService) ownedRental(ctx context.Context, userID, rentalID int64) (*domain.Rental, error) {
	rental, err := s.rentals.GetRental(ctx, userID, rentalID)
	if errors.Is(err, domain.ErrForbidden) {
		return nil, domain.ErrRentalNotFound
	}
	if err != nil {
		return nil, err
	}
	if rental.UserID != userID {
		return nil, domain.ErrRentalNotFound
	}
	return rental, nil
}

func (s *paymentService) carFor(ctx context.Context, rental *domain.Rental) (*domain.Car, error) {
	return s.store.Cars().GetByID(ctx, rental.CarID)
}

func (s *paymentService) openSession(ctx context.Context, method string, userID, rentalID int64, paymentType domain.PaymentType, renew bool) (payment *domain.Payment, err error) {
	logger.EnterMethod(method, "userID", userID, "rentalID", rentalID, "type", paymentType)
	defer func() {
		if err != nil {
			logger.ExitMethodWithError(method, err, "userID", userID, "rentalID", rentalID, "type", paymentType)
		}
	}()

	if !paymentType.Valid() {
		return nil, fmt.Errorf("%w: unknown payment type %q", domain.ErrInvalidInput, paymentType)
	}

	rental, err := s.ownedRental(ctx, userID, rentalID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.Payments().GetByRentalAndType(ctx, rentalID, paymentType)
	switch {
	case errors.Is(err, domain.ErrPaymentNotFound):
		if renew {
			return nil, domain.ErrNoPreviousSession
		}
		existing = nil
	case err != nil:
		return nil, err
	}
	if existing != nil {
		if err := s.checkReplaceable(ctx, existing, renew); err != nil {
			return nil, err
		}
	}

	car, err := s.carFor(ctx, rental)
	if err != nil {
		return nil, err
	}
	amount, err := utils.AmountForType(car.DailyFee, rental, paymentType)
	if err != nil {
		return nil, err
	}

	logger.ExternalServiceCall("payment_gateway", "create_session", "rentalID", rentalID, "amount", amount)
	session, err := s.gateway.CreateSession(ctx, domain.SessionRequest{
		Amount:      amount,
		Description: fmt.Sprintf("%s for rental #%d (%s %s)", paymentType, rentalID, car.Brand, car.Model),
		SuccessURL:  s.urls.SuccessURL,
		CancelURL:   s.urls.CancelURL,
		Metadata: domain.SessionMetadata{
			RentalID: rentalID,
			Type:     paymentType,
			Amount:   amount,
		},
	})
	logger.ExternalServiceResult("payment_gateway", "create_session", err, "rentalID", rentalID)
	if err != nil {
		return nil, fmt.Errorf("create payment session: %w", err)
	}

	payment = &domain.Payment{
		RentalID:    rentalID,
		Type:        paymentType,
		SessionID:   session.ID,
		SessionURL:  session.URL,
		AmountToPay: amount,
	}

	var written bool
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		written, err = tx.Payments().UpsertPending(ctx, payment)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !written {
		// Another session or the webhook got to the row first.
		current, err := s.store.Payments().GetByRentalAndType(ctx, rentalID, paymentType)
		if err != nil {
			return nil, err
		}
		if current.SessionID == payment.SessionID && current.Status == domain.PaymentStatusPaid {
			return current, nil
		}
		return nil, conflictFor(current)
	}

	metrics.PaymentTransitions.WithLabelValues(string(paymentType), string(domain.PaymentStatusPending)).Inc()
	logger.ExitMethod(method, "paymentID", payment.ID, "sessionID", payment.SessionID)
	return payment, nil
}

// checkReplaceable decides whether a new session may replace existing. A
// pending session that the gateway reports as expired is expired first when
// renewing.
func (s *paymentService) checkReplaceable(ctx context.Context, existing *domain.Payment, renew bool) error {
	switch existing.Status {
	case domain.PaymentStatusPaid:
		return domain.ErrPaymentAlreadyPaid
	case domain.PaymentStatusPending:
		if !renew {
			return &domain.PendingPaymentError{SessionURL: existing.SessionURL}
		}
		logger.ExternalServiceCall("payment_gateway", "is_session_expired", "sessionID", existing.SessionID)
		expired, err := s.gateway.IsSessionExpired(ctx, existing.SessionID)
		logger.ExternalServiceResult("payment_gateway", "is_session_expired", err, "sessionID", existing.SessionID)
		if err != nil {
			return fmt.Errorf("check payment session: %w", err)
		}
		if !expired {
			return &domain.PendingPaymentError{SessionURL: existing.SessionURL}
		}
		ok, err := s.store.Payments().MarkExpired(ctx, existing.ID)
		if err != nil {
			return err
		}
		if ok {
			metrics.PaymentTransitions.WithLabelValues(string(existing.Type), string(domain.PaymentStatusExpired)).Inc()
		}
	}
	return nil
}

func conflictFor(p *domain.Payment) error {
	switch p.Status {
	case domain.PaymentStatusPaid:
		return domain.ErrPaymentAlreadyPaid
	case domain.PaymentStatusPending:
		return &domain.PendingPaymentError{SessionURL: p.SessionURL}
	}
	return domain.ErrConcurrentUpdate
}

// HandlePaymentSuccess records the gateway's success signal. Repeated signals
// for a PAID payment change nothing and notify nobody.
func (s *paymentService) HandlePaymentSuccess(ctx context.Context, meta domain.SessionMetadata) (payment *domain.Payment, err error) {
	const method = "paymentService.HandlePaymentSuccess"
	logger.EnterMethod(method, "sessionID", meta.SessionID, "rentalID", meta.RentalID, "type", meta.Type)
	defer func() {
		if err != nil {
			logger.ExitMethodWithError(method, err, "sessionID", meta.SessionID, "rentalID", meta.RentalID)
		}
	}()

	if meta.SessionID == "" || !meta.Type.Valid() {
		return nil, fmt.Errorf("%w: incomplete session metadata", domain.ErrInvalidInput)
	}

	rental, err := s.store.Rentals().GetByID(ctx, meta.RentalID)
	if err != nil {
		return nil, err
	}
	car, err := s.carFor(ctx, rental)
	if err != nil {
		return nil, err
	}
	expected, err := utils.AmountForType(car.DailyFee, rental, meta.Type)
	if err != nil {
		return nil, err
	}
	if !expected.Equal(meta.Amount) {
		logger.Warn("Payment amount mismatch", "sessionID", meta.SessionID, "expected", expected, "received", meta.Amount)
		return nil, fmt.Errorf("%w: expected %s, received %s", domain.ErrInvalidPaymentAmount, expected.StringFixed(2), meta.Amount.StringFixed(2))
	}

	var transitioned bool
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		existing, err := tx.Payments().GetBySessionIDForUpdate(ctx, meta.SessionID)
		switch {
		case err == nil:
			payment = existing
			if existing.Status == domain.PaymentStatusPaid {
				return nil
			}
			transitioned, err = tx.Payments().MarkPaid(ctx, existing.ID)
			if err != nil {
				return err
			}
			payment.Status = domain.PaymentStatusPaid
			return nil

		case errors.Is(err, domain.ErrPaymentNotFound):
			created := &domain.Payment{
				RentalID:    meta.RentalID,
				Type:        meta.Type,
				SessionID:   meta.SessionID,
				AmountToPay: meta.Amount,
			}
			transitioned, err = tx.Payments().UpsertPaid(ctx, created)
			if err != nil {
				return err
			}
			if transitioned {
				payment = created
				return nil
			}
			payment, err = tx.Payments().GetByRentalAndType(ctx, meta.RentalID, meta.Type)
			return err

		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	if !transitioned {
		logger.Info("Payment already recorded as paid", "sessionID", meta.SessionID, "paymentID", payment.ID)
		return payment, nil
	}

	metrics.PaymentTransitions.WithLabelValues(string(meta.Type), string(domain.PaymentStatusPaid)).Inc()
	notify(ctx, s.notifier, domain.Notification{
		Type:        domain.NotificationPaymentSuccessful,
		UserID:      rental.UserID,
		RentalID:    rental.ID,
		CarID:       rental.CarID,
		PaymentType: meta.Type,
		Amount:      meta.Amount,
		OccurredAt:  s.clock(),
	})

	logger.ExitMethod(method, "paymentID", payment.ID)
	return payment, nil
}

func (s *paymentService) ConfirmSession(ctx context.Context, sessionID string) (*domain.Payment, error) {
	logger.ExternalServiceCall("payment_gateway", "get_session", "sessionID", sessionID)
	session, err := s.gateway.GetSession(ctx, sessionID)
	logger.ExternalServiceResult("payment_gateway", "get_session", err, "sessionID", sessionID)
	if err != nil {
		return nil, fmt.Errorf("get payment session: %w", err)
	}
	if !session.Paid {
		return nil, domain.ErrSessionNotPaid
	}

	meta := session.Metadata
	meta.SessionID = session.ID
	return s.HandlePaymentSuccess(ctx, meta)
}

// ExpireSession flips a PENDING payment to EXPIRED. It reports false when
// the payment was already paid or expired.
func (s *paymentService) ExpireSession(ctx context.Context, sessionID string) (bool, error) {
	payment, err := s.store.Payments().GetBySessionID(ctx, sessionID)
	if err != nil {
		return false, err
	}

	ok, err := s.store.Payments().MarkExpired(ctx, payment.ID)
	if err != nil {
		return false, err
	}
	if ok {
		metrics.PaymentTransitions.WithLabelValues(string(payment.Type), string(domain.PaymentStatusExpired)).Inc()
		logger.Info("Payment session expired", "sessionID", sessionID, "paymentID", payment.ID)
	}
	return ok, nil
}

// ExpireStaleSessions asks the gateway about PENDING payments untouched for
// olderThan and expires those whose sessions are gone.
func (s *paymentService) ExpireStaleSessions(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	logger.EnterMethod("paymentService.ExpireStaleSessions", "olderThan", olderThan, "limit", limit)

	cutoff := s.clock().Add(-olderThan)
	stale, err := s.store.Payments().ListPendingOlderThan(ctx, cutoff, limit)
	if err != nil {
		logger.ExitMethodWithError("paymentService.ExpireStaleSessions", err)
		return 0, err
	}

	log := logger.WithMethod("paymentService.ExpireStaleSessions")
	expired := 0
	for _, p := range stale {
		gone, err := s.gateway.IsSessionExpired(ctx, p.SessionID)
		if err != nil {
			log.WarnContext(ctx, "Could not check payment session", "sessionID", p.SessionID, "error", err)
			continue
		}
		if !gone {
			continue
		}
		ok, err := s.store.Payments().MarkExpired(ctx, p.ID)
		if err != nil {
			log.ErrorContext(ctx, "Failed to expire payment", "paymentID", p.ID, "error", err)
			continue
		}
		if ok {
			metrics.PaymentTransitions.WithLabelValues(string(p.Type), string(domain.PaymentStatusExpired)).Inc()
			expired++
		}
	}

	logger.ExitMethod("paymentService.ExpireStaleSessions", "checked", len(stale), "expired", expired)
	return expired, nil
}

func (s *paymentService) GetPayment(ctx context.Context, userID, rentalID int64, paymentType domain.PaymentType) (*domain.Payment, error) {
	if _, err := s.ownedRental(ctx, userID, rentalID); err != nil {
		return nil, err
	}
	return s.store.Payments().GetByRentalAndType(ctx, rentalID, paymentType)
}
