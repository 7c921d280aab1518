// Package stripe opens and inspects Stripe Checkout sessions.
package stripe

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
)

// Metadata keys attached to every session.
const (
	MetaRentalID = "rental_id"
	MetaType     = "payment_type"
	MetaAmount   = "amount"
)

type sessionClient interface {
	New(params *stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error)
	Get(id string, params *stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error)
}

type Config struct {
	SecretKey string
	Currency  string
	// SessionTTL is passed as expires_at. Stripe accepts 30 minutes to 24
	// hours; zero keeps Stripe's default.
	SessionTTL time.Duration
}

type Gateway struct {
	sessions sessionClient
	currency string
	ttl      time.Duration
	now      func() time.Time
}

func New(cfg Config) *Gateway {
	api := client.New(cfg.SecretKey, nil)
	return newGateway(api.CheckoutSessions, cfg)
}

func newGateway(sessions sessionClient, cfg Config) *Gateway {
	currency := cfg.Currency
	if currency == "" {
		currency = string(stripego.CurrencyUSD)
	}
	return &Gateway{
		sessions: sessions,
		currency: currency,
		ttl:      cfg.SessionTTL,
		now:      time.Now,
	}
}

func (g *Gateway) CreateSession(ctx context.Context, req domain.SessionRequest) (*domain.Session, error) {
	cents := req.Amount.Shift(2).Round(0).IntPart()
	if cents <= 0 {
		return nil, fmt.Errorf("stripe: amount must be positive, got %s", req.Amount)
	}

	params := &stripego.CheckoutSessionParams{
		Mode:       stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL: stripego.String(req.SuccessURL),
		CancelURL:  stripego.String(req.CancelURL),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{
				PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
					Currency: stripego.String(g.currency),
					ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripego.String(req.Description),
					},
					UnitAmount: stripego.Int64(cents),
				},
				Quantity: stripego.Int64(1),
			},
		},
	}
	params.Context = ctx
	if g.ttl > 0 {
		params.ExpiresAt = stripego.Int64(g.now().Add(g.ttl).Unix())
	}
	params.AddMetadata(MetaRentalID, strconv.FormatInt(req.Metadata.RentalID, 10))
	params.AddMetadata(MetaType, string(req.Metadata.Type))
	params.AddMetadata(MetaAmount, req.Metadata.Amount.StringFixed(2))

	logger.ExternalServiceCall("stripe", "checkout.sessions.create", "rentalID", req.Metadata.RentalID, "cents", cents)
	s, err := g.sessions.New(params)
	logger.ExternalServiceResult("stripe", "checkout.sessions.create", err, "rentalID", req.Metadata.RentalID)
	if err != nil {
		return nil, err
	}
	return toSession(s)
}

func (g *Gateway) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx

	logger.ExternalServiceCall("stripe", "checkout.sessions.retrieve", "sessionID", sessionID)
	s, err := g.sessions.Get(sessionID, params)
	logger.ExternalServiceResult("stripe", "checkout.sessions.retrieve", err, "sessionID", sessionID)
	if err != nil {
		return nil, err
	}
	return toSession(s)
}

func (g *Gateway) IsSessionExpired(ctx context.Context, sessionID string) (bool, error) {
	s, err := g.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return s.Expired, nil
}

func toSession(s *stripego.CheckoutSession) (*domain.Session, error) {
	var meta domain.SessionMetadata
	var err error
	if IsPaid(s) {
		meta, err = PaidMetadata(s)
	} else {
		meta, err = ParseMetadata(s.ID, s.Metadata)
	}
	if err != nil {
		return nil, err
	}
	return &domain.Session{
		ID:       s.ID,
		URL:      s.URL,
		Amount:   decimal.New(s.AmountTotal, -2),
		Paid:     IsPaid(s),
		Expired:  s.Status == stripego.CheckoutSessionStatusExpired,
		Metadata: meta,
	}, nil
}

// IsPaid treats no_payment_required like paid; both mean funds are settled.
func IsPaid(s *stripego.CheckoutSession) bool {
	return s.PaymentStatus == stripego.CheckoutSessionPaymentStatusPaid ||
		s.PaymentStatus == stripego.CheckoutSessionPaymentStatusNoPaymentRequired
}

// PaidMetadata parses a paid session's metadata and checks its amount
// against what Stripe actually charged.
func PaidMetadata(s *stripego.CheckoutSession) (domain.SessionMetadata, error) {
	meta, err := ParseMetadata(s.ID, s.Metadata)
	if err != nil {
		return domain.SessionMetadata{}, err
	}
	charged := decimal.New(s.AmountTotal, -2)
	if !charged.Equal(meta.Amount) {
		return domain.SessionMetadata{}, fmt.Errorf("%w: session %s charged %s, metadata says %s",
			domain.ErrInvalidPaymentAmount, s.ID, charged.StringFixed(2), meta.Amount.StringFixed(2))
	}
	return meta, nil
}

// ParseMetadata reads the session metadata written by CreateSession.
func ParseMetadata(sessionID string, md map[string]string) (domain.SessionMetadata, error) {
	rentalID, err := strconv.ParseInt(md[MetaRentalID], 10, 64)
	if err != nil {
		return domain.SessionMetadata{}, fmt.Errorf("%w: session %s has no valid %s", domain.ErrInvalidInput, sessionID, MetaRentalID)
	}
	amount, err := decimal.NewFromString(md[MetaAmount])
	if err != nil {
		return domain.SessionMetadata{}, fmt.Errorf("%w: session %s has no valid %s", domain.ErrInvalidInput, sessionID, MetaAmount)
	}
	paymentType := domain.PaymentType(md[MetaType])
	if !paymentType.Valid() {
		return domain.SessionMetadata{}, fmt.Errorf("%w: session %s has no valid %s", domain.ErrInvalidInput, sessionID, MetaType)
	}
	return domain.SessionMetadata{
		SessionID: sessionID,
		RentalID:  rentalID,
		Type:      paymentType,
		Amount:    amount,
	}, nil
}
