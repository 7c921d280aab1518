package notification

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/repository"
)

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type EmailConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// EmailNotifier mails the rental's customer. Notification types without a
// template are skipped.
type EmailNotifier struct {
	client mailSender
	users  repository.UserRepository
	from   *mail.Email
}

func NewEmailNotifier(cfg EmailConfig, users repository.UserRepository) *EmailNotifier {
	return newEmailNotifier(sendgrid.NewSendClient(cfg.APIKey), users, cfg)
}

func newEmailNotifier(client mailSender, users repository.UserRepository, cfg EmailConfig) *EmailNotifier {
	return &EmailNotifier{
		client: client,
		users:  users,
		from:   mail.NewEmail(cfg.FromName, cfg.FromEmail),
	}
}

func (e *EmailNotifier) Send(ctx context.Context, n domain.Notification) error {
	subject, body, ok := render(n)
	if !ok {
		return nil
	}
	user, err := e.users.GetByID(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("failed to look up recipient %d: %w", n.UserID, err)
	}
	if user.Email == "" {
		logger.Warn("Skipping email for user without address", "userID", n.UserID, "type", n.Type)
		return nil
	}

	message := mail.NewSingleEmail(e.from, subject, mail.NewEmail(user.Name, user.Email), body, "")

	logger.ExternalServiceCall("sendgrid", "send", "type", n.Type, "userID", n.UserID)
	resp, err := e.client.SendWithContext(ctx, message)
	if err == nil && resp.StatusCode >= 400 {
		err = fmt.Errorf("sendgrid error: status %d, body: %s", resp.StatusCode, resp.Body)
	}
	logger.ExternalServiceResult("sendgrid", "send", err, "type", n.Type, "userID", n.UserID)
	return err
}

func render(n domain.Notification) (subject, body string, ok bool) {
	switch n.Type {
	case domain.NotificationRentalCreated:
		subject = fmt.Sprintf("Rental #%d confirmed", n.RentalID)
		body = fmt.Sprintf("Your rental #%d is booked", n.RentalID)
		if n.ReturnDate != nil {
			body += " until " + n.ReturnDate.Format("2006-01-02")
		}
		body += fmt.Sprintf(". Amount due: %s.", n.Amount.StringFixed(2))
	case domain.NotificationOverdueRental:
		subject = fmt.Sprintf("Rental #%d is overdue", n.RentalID)
		body = fmt.Sprintf("Your rental #%d is %d day(s) overdue. Please return the car; late days are charged at 1.5x the daily fee.",
			n.RentalID, n.DaysOverdue)
	case domain.NotificationPaymentSuccessful:
		subject = fmt.Sprintf("Payment received for rental #%d", n.RentalID)
		body = fmt.Sprintf("We received %s for the %s of rental #%d.",
			n.Amount.StringFixed(2), n.PaymentType, n.RentalID)
	default:
		return "", "", false
	}
	return subject, body, true
}
