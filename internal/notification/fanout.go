package notification

import (
	"context"
	"errors"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
)

type Sink interface {
	Send(ctx context.Context, n domain.Notification) error
}

// Fanout sends to every sink and joins their errors.
type Fanout []Sink

func NewFanout(sinks ...Sink) Fanout {
	return Fanout(sinks)
}

func (f Fanout) Send(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier is the sink used when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, n domain.Notification) error {
	logger.InfoContext(ctx, "Notification", "id", n.ID, "type", n.Type, "userID", n.UserID,
		"rentalID", n.RentalID, "amount", n.Amount.StringFixed(2))
	return nil
}
