package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	stripego "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"carrental-backend/internal/domain"
	stripegw "carrental-backend/internal/gateway/stripe"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/metrics"
	"carrental-backend/internal/service"
)

const maxWebhookBytes = 64 << 10

// Deduplicator remembers webhook event ids already being processed.
type Deduplicator interface {
	Claim(ctx context.Context, eventID string) bool
	Release(ctx context.Context, eventID string)
}

type WebhookHandler struct {
	payments service.PaymentService
	secret   string
	dedup    Deduplicator
}

// NewWebhookHandler verifies deliveries with the endpoint secret. dedup may
// be nil.
func NewWebhookHandler(payments service.PaymentService, secret string, dedup Deduplicator) *WebhookHandler {
	return &WebhookHandler{payments: payments, secret: secret, dedup: dedup}
}

// HandleStripe handles POST /webhooks/stripe
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeBadRequest(w, "unreadable payload")
		return
	}
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		logger.Warn("Rejected webhook", "error", err)
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid_signature").Inc()
		writeBadRequest(w, "invalid signature")
		return
	}

	eventType := string(event.Type)
	if h.dedup != nil && !h.dedup.Claim(r.Context(), event.ID) {
		logger.Info("Duplicate webhook ignored", "eventID", event.ID, "type", eventType)
		metrics.WebhookEvents.WithLabelValues(eventType, "duplicate").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}

	err = h.dispatch(r.Context(), event)
	metrics.WebhookEvents.WithLabelValues(eventType, metrics.Result(err)).Inc()
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch domain.KindOf(err) {
	case domain.KindNotFound, domain.KindInvalidInput, domain.KindIntegrityViolation, domain.KindForbidden:
		// Redelivery cannot fix these; acknowledge so the gateway stops retrying.
		logger.Warn("Webhook event rejected", "eventID", event.ID, "type", eventType, "error", err)
		w.WriteHeader(http.StatusOK)
	default:
		logger.Error("Webhook event failed", "eventID", event.ID, "type", eventType, "error", err)
		if h.dedup != nil {
			h.dedup.Release(r.Context(), event.ID)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func (h *WebhookHandler) dispatch(ctx context.Context, event stripego.Event) error {
	switch event.Type {
	case stripego.EventTypeCheckoutSessionCompleted, stripego.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		session, err := decodeSession(event)
		if err != nil {
			return err
		}
		// Delayed payment methods complete unpaid and follow up with
		// async_payment_succeeded.
		if !stripegw.IsPaid(session) {
			logger.Info("Checkout completed without payment yet", "sessionID", session.ID)
			return nil
		}
		meta, err := stripegw.PaidMetadata(session)
		if err != nil {
			return err
		}
		_, err = h.payments.HandlePaymentSuccess(ctx, meta)
		return err

	case stripego.EventTypeCheckoutSessionExpired:
		session, err := decodeSession(event)
		if err != nil {
			return err
		}
		_, err = h.payments.ExpireSession(ctx, session.ID)
		return err

	default:
		logger.Debug("Unhandled webhook event", "type", event.Type)
		return nil
	}
}

func decodeSession(event stripego.Event) (*stripego.CheckoutSession, error) {
	var session stripego.CheckoutSession
	if event.Data == nil {
		return nil, domain.ErrInvalidInput
	}
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, domain.ErrInvalidInput
	}
	return &session, nil
}
