package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carrental-backend/internal/domain"
)

func rentCar(t *testing.T, f *fixture, userID int64, days int) (*domain.Rental, domain.Car) {
	t.Helper()
	car := f.addCar(1, 50)
	rental, err := f.rentals.CreateRental(context.Background(), userID, car.ID, f.daysFromToday(days))
	require.NoError(t, err)
	return rental, car
}

func TestPaymentService_CreatePaymentSession(t *testing.T) {
	ctx := context.Background()

	t.Run("Opens a pending session for the base cost", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)

		payment, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPending, payment.Status)
		assert.True(t, decimal.NewFromInt(150).Equal(payment.AmountToPay))
		assert.NotEmpty(t, payment.SessionID)
		assert.NotEmpty(t, payment.SessionURL)
	})

	t.Run("Second session while pending reports the original url", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)

		first, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		require.NoError(t, err)

		_, err = f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		assert.ErrorIs(t, err, domain.ErrPendingPaymentsExist)
		var pending *domain.PendingPaymentError
		require.True(t, errors.As(err, &pending))
		assert.Equal(t, first.SessionURL, pending.SessionURL)
	})

	t.Run("Paid payment cannot be paid again", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)

		payment, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		require.NoError(t, err)
		meta, err := f.gateway.Complete(payment.SessionID)
		require.NoError(t, err)
		_, err = f.payments.HandlePaymentSuccess(ctx, meta)
		require.NoError(t, err)

		_, err = f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		assert.ErrorIs(t, err, domain.ErrPaymentAlreadyPaid)
	})

	t.Run("Expired payment is replaced", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)

		first, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		require.NoError(t, err)
		ok, err := f.payments.ExpireSession(ctx, first.SessionID)
		require.NoError(t, err)
		require.True(t, ok)

		second, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.NotEqual(t, first.SessionID, second.SessionID)
		assert.Equal(t, domain.PaymentStatusPending, second.Status)
	})

	t.Run("Rental of another customer is not found", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)

		_, err := f.payments.CreatePaymentSession(ctx, otherCustomerID, rental.ID, domain.PaymentTypePayment)
		assert.ErrorIs(t, err, domain.ErrRentalNotFound)

		_, err = f.payments.CreatePaymentSession(ctx, managerID, rental.ID, domain.PaymentTypePayment)
		assert.ErrorIs(t, err, domain.ErrRentalNotFound)
	})

	t.Run("Fine before return", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)

		_, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypeFine)
		assert.ErrorIs(t, err, domain.ErrRentalNotReturned)
	})

	t.Run("Fine for a rental returned on time", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)
		_, err := f.rentals.ReturnRental(ctx, customerID, rental.ID)
		require.NoError(t, err)

		_, err = f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypeFine)
		assert.ErrorIs(t, err, domain.ErrRentalNotOverdue)
	})

	t.Run("Fine for a late return", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)
		f.clock.Advance(4 * 24 * time.Hour)
		_, err := f.rentals.ReturnRental(ctx, customerID, rental.ID)
		require.NoError(t, err)

		fine, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypeFine)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(75).Equal(fine.AmountToPay), fine.AmountToPay.String())
	})

	t.Run("Gateway failure persists nothing", func(t *testing.T) {
		gw := new(MockGateway)
		gw.On("CreateSession", mock.Anything, mock.Anything).Return(nil, errors.New("stripe unavailable"))
		f := newFixtureWithGateway(t, gw)
		rental, _ := rentCar(t, f, customerID, 3)

		_, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		assert.Error(t, err)

		_, err = f.payments.GetPayment(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	})
}

func TestPaymentService_RenewPaymentSession(t *testing.T) {
	ctx := context.Background()

	t.Run("No previous session", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)

		_, err := f.payments.RenewPaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		assert.ErrorIs(t, err, domain.ErrNoPreviousSession)
	})

	t.Run("Pending session still open at the gateway", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)
		first, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		require.NoError(t, err)

		_, err = f.payments.RenewPaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		var pending *domain.PendingPaymentError
		require.True(t, errors.As(err, &pending))
		assert.Equal(t, first.SessionURL, pending.SessionURL)
	})

	t.Run("Pending session expired at the gateway is renewed", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)
		first, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		require.NoError(t, err)
		require.NoError(t, f.gateway.Expire(first.SessionID))

		renewed, err := f.payments.RenewPaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPending, renewed.Status)
		assert.NotEqual(t, first.SessionID, renewed.SessionID)
		assert.True(t, decimal.NewFromInt(150).Equal(renewed.AmountToPay))
	})

	t.Run("Gateway check failure", func(t *testing.T) {
		gw := new(MockGateway)
		gw.On("CreateSession", mock.Anything, mock.Anything).
			Return(&domain.Session{ID: "cs_1", URL: "https://pay/cs_1"}, nil)
		gw.On("IsSessionExpired", mock.Anything, "cs_1").Return(false, errors.New("timeout"))
		f := newFixtureWithGateway(t, gw)
		rental, _ := rentCar(t, f, customerID, 3)

		_, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		require.NoError(t, err)

		_, err = f.payments.RenewPaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		assert.Error(t, err)
		assert.Equal(t, domain.ErrorKind(""), domain.KindOf(err))
		gw.AssertExpectations(t)
	})
}

func TestPaymentService_HandlePaymentSuccess(t *testing.T) {
	ctx := context.Background()

	t.Run("Round trip yields a paid payment with the expected amount", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)

		payment, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		require.NoError(t, err)
		meta, err := f.gateway.Complete(payment.SessionID)
		require.NoError(t, err)

		paid, err := f.payments.HandlePaymentSuccess(ctx, meta)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPaid, paid.Status)
		assert.Equal(t, payment.ID, paid.ID)
		assert.True(t, decimal.NewFromInt(150).Equal(paid.AmountToPay))

		sent := f.notifier.sent(domain.NotificationPaymentSuccessful)
		require.Len(t, sent, 1)
		assert.Equal(t, customerID, sent[0].UserID)
	})

	t.Run("Redelivery is a no-op", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)

		payment, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		require.NoError(t, err)
		meta, err := f.gateway.Complete(payment.SessionID)
		require.NoError(t, err)

		first, err := f.payments.HandlePaymentSuccess(ctx, meta)
		require.NoError(t, err)
		second, err := f.payments.HandlePaymentSuccess(ctx, meta)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, domain.PaymentStatusPaid, second.Status)
		assert.True(t, first.AmountToPay.Equal(second.AmountToPay))
		assert.Len(t, f.notifier.sent(domain.NotificationPaymentSuccessful), 1)
	})

	t.Run("Webhook before the local record creates it", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)

		paid, err := f.payments.HandlePaymentSuccess(ctx, domain.SessionMetadata{
			SessionID: "cs_external",
			RentalID:  rental.ID,
			Type:      domain.PaymentTypePayment,
			Amount:    decimal.NewFromInt(150),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPaid, paid.Status)

		stored, err := f.payments.GetPayment(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		require.NoError(t, err)
		assert.Equal(t, "cs_external", stored.SessionID)
		assert.Len(t, f.notifier.sent(domain.NotificationPaymentSuccessful), 1)
	})

	t.Run("Amount mismatch is rejected", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)

		payment, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		require.NoError(t, err)

		_, err = f.payments.HandlePaymentSuccess(ctx, domain.SessionMetadata{
			SessionID: payment.SessionID,
			RentalID:  rental.ID,
			Type:      domain.PaymentTypePayment,
			Amount:    decimal.NewFromInt(1),
		})
		assert.ErrorIs(t, err, domain.ErrInvalidPaymentAmount)
		assert.Equal(t, domain.KindIntegrityViolation, domain.KindOf(err))

		stored, err := f.payments.GetPayment(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPending, stored.Status)
		assert.Empty(t, f.notifier.sent(domain.NotificationPaymentSuccessful))
	})

	t.Run("Expired payment paid late still becomes paid", func(t *testing.T) {
		f := newFixture(t)
		rental, _ := rentCar(t, f, customerID, 3)

		payment, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
		require.NoError(t, err)
		meta, err := f.gateway.Complete(payment.SessionID)
		require.NoError(t, err)
		_, err = f.payments.ExpireSession(ctx, payment.SessionID)
		require.NoError(t, err)

		paid, err := f.payments.HandlePaymentSuccess(ctx, meta)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPaid, paid.Status)
	})

	t.Run("Incomplete metadata", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.payments.HandlePaymentSuccess(ctx, domain.SessionMetadata{RentalID: 1, Type: domain.PaymentTypePayment})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPaymentService_ConcurrentSuccessSignals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rental, _ := rentCar(t, f, customerID, 3)

	payment, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
	require.NoError(t, err)
	meta, err := f.gateway.Complete(payment.SessionID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.payments.HandlePaymentSuccess(ctx, meta)
			} else {
				_, err = f.payments.ConfirmSession(ctx, payment.SessionID)
			}
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := f.payments.GetPayment(ctx, customerID, rental.ID, domain.PaymentTypePayment)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, stored.Status)
	assert.Len(t, f.notifier.sent(domain.NotificationPaymentSuccessful), 1)
}

func TestPaymentService_ConfirmSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rental, _ := rentCar(t, f, customerID, 3)

	payment, err := f.payments.CreatePaymentSession(ctx, customerID, rental.ID, domain.PaymentTypePayment)
	require.NoError(t, err)

	_, err = f.payments.ConfirmSession(ctx, payment.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionNotPaid)

	_, err = f.gateway.Complete(payment.SessionID)
	require.NoError(t, err)

	paid, err := f.payments.ConfirmSession(ctx, payment.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, paid.Status)
}

func TestPaymentService_ExpireStaleSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	openRental, _ := rentCar(t, f, customerID, 3)
	staleRental, _ := rentCar(t, f, otherCustomerID, 3)

	open, err := f.payments.CreatePaymentSession(ctx, customerID, openRental.ID, domain.PaymentTypePayment)
	require.NoError(t, err)
	stale, err := f.payments.CreatePaymentSession(ctx, otherCustomerID, staleRental.ID, domain.PaymentTypePayment)
	require.NoError(t, err)
	require.NoError(t, f.gateway.Expire(stale.SessionID))

	f.clock.Advance(2 * time.Hour)
	expired, err := f.payments.ExpireStaleSessions(ctx, time.Hour, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := f.payments.GetPayment(ctx, otherCustomerID, staleRental.ID, domain.PaymentTypePayment)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusExpired, got.Status)

	got, err = f.payments.GetPayment(ctx, customerID, openRental.ID, domain.PaymentTypePayment)
	require.NoError(t, err)
	assert.Equal(t, open.SessionID, got.SessionID)
	assert.Equal(t, domain.PaymentStatusPending, got.Status)
}
