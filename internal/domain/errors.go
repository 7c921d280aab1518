package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindInvalidInput       ErrorKind = "INVALID_INPUT"
	KindConflict           ErrorKind = "CONFLICT"
	KindIntegrityViolation ErrorKind = "INTEGRITY_VIOLATION"
	KindForbidden          ErrorKind = "FORBIDDEN"
)

// Error is a typed business failure. Two errors are equal under errors.Is
// when their codes match, so wrapping keeps them recognisable.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrCarNotFound       = newError(KindNotFound, "CAR_NOT_FOUND", "car not found")
	ErrRentalNotFound    = newError(KindNotFound, "RENTAL_NOT_FOUND", "rental not found")
	ErrPaymentNotFound   = newError(KindNotFound, "PAYMENT_NOT_FOUND", "payment not found")
	ErrUserNotFound      = newError(KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrNoPreviousSession = newError(KindNotFound, "NO_PREVIOUS_SESSION", "no previous payment session to renew")

	ErrInvalidInput       = newError(KindInvalidInput, "INVALID_INPUT", "invalid input")
	ErrInvalidQuantity    = newError(KindInvalidInput, "INVALID_QUANTITY", "quantity must not be negative")
	ErrInvalidRentalDates = newError(KindInvalidInput, "INVALID_RENTAL_DATES", "invalid rental dates")
	ErrInvalidDailyFee    = newError(KindInvalidInput, "INVALID_DAILY_FEE", "daily fee must be positive")

	ErrCarNotAvailable       = newError(KindConflict, "CAR_NOT_AVAILABLE", "car is not available")
	ErrInsufficientInventory = newError(KindConflict, "INSUFFICIENT_INVENTORY", "insufficient inventory")
	ErrPendingPaymentsExist  = newError(KindConflict, "PENDING_PAYMENTS_EXIST", "pending payments exist")
	ErrPaymentAlreadyPaid    = newError(KindConflict, "PAYMENT_ALREADY_PAID", "payment is already paid")
	ErrAlreadyReturned       = newError(KindConflict, "ALREADY_RETURNED", "rental is already returned")
	ErrRentalNotReturned     = newError(KindConflict, "RENTAL_NOT_RETURNED", "rental is not returned yet")
	ErrRentalNotOverdue      = newError(KindConflict, "RENTAL_NOT_OVERDUE", "rental was returned on time")
	ErrSessionNotPaid        = newError(KindConflict, "SESSION_NOT_PAID", "payment session is not paid")
	ErrLockTimeout           = newError(KindConflict, "LOCK_TIMEOUT", "resource is busy, retry later")
	ErrConcurrentUpdate      = newError(KindConflict, "CONCURRENT_UPDATE", "resource was modified concurrently, retry later")

	ErrInvalidPaymentAmount = newError(KindIntegrityViolation, "INVALID_PAYMENT_AMOUNT", "payment amount does not match the expected amount")

	ErrForbidden = newError(KindForbidden, "FORBIDDEN", "access denied")
)

// PendingPaymentError reports the session a customer still has to complete.
type PendingPaymentError struct {
	SessionURL string
}

func (e *PendingPaymentError) Error() string {
	return fmt.Sprintf("%s: complete the existing session at %s", ErrPendingPaymentsExist.Message, e.SessionURL)
}

func (e *PendingPaymentError) Unwrap() error {
	return ErrPendingPaymentsExist
}

// KindOf returns the kind of the first typed error in the chain, or "" for
// infrastructure failures.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// CodeOf returns the code of the first typed error in the chain.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
