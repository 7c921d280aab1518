package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/gateway/sandbox"
	"carrental-backend/internal/notification"
	"carrental-backend/internal/repository/memory"
	"carrental-backend/internal/security"
	"carrental-backend/internal/service"
)

const (
	testJWTSecret     = "0123456789abcdef0123456789abcdef"
	testWebhookSecret = "whsec_test_secret"
	customerID        = int64(1)
	managerID         = int64(9)
)

type memoryDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memoryDedup) Claim(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false
	}
	d.seen[id] = true
	return true
}

func (d *memoryDedup) Release(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}

type testServer struct {
	router  *mux.Router
	store   *memory.Store
	gateway *sandbox.Gateway
	tokens  security.TokenManager
	car     domain.Car
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.NewStore()
	store.AddUser(domain.User{ID: customerID, Email: "ann@example.com", Name: "Ann", Role: domain.UserRoleCustomer})
	store.AddUser(domain.User{ID: managerID, Email: "desk@example.com", Name: "Desk", Role: domain.UserRoleManager})
	car := store.AddCar(domain.Car{Brand: "Toyota", Model: "Yaris", Inventory: 2, DailyFee: decimal.NewFromInt(40)})

	gw := sandbox.New("http://localhost:8080")
	notifier := notification.LogNotifier{}
	inventory := service.NewInventoryService(store)
	rentals := service.NewRentalService(store, inventory, service.NewRoleAccessChecker(), notifier,
		service.DefaultRentalPolicy(), service.SystemClock)
	payments := service.NewPaymentService(store, rentals, gw, notifier, service.PaymentURLs{
		SuccessURL: "http://localhost:8080/api/v1/payments/success",
		CancelURL:  "http://localhost:8080/api/v1/payments/cancel",
	}, service.SystemClock)

	tokens := security.NewTokenManager(testJWTSecret, time.Hour)
	router := NewRouter(RouterDeps{
		Tokens:        tokens,
		Inventory:     inventory,
		Rentals:       rentals,
		Payments:      payments,
		WebhookSecret: testWebhookSecret,
		Dedup:         &memoryDedup{seen: map[string]bool{}},
		Sandbox:       gw,
	})
	return &testServer{router: router, store: store, gateway: gw, tokens: tokens, car: car}
}

func (s *testServer) do(t *testing.T, method, path string, userID int64, role domain.UserRole, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != 0 {
		token, err := s.tokens.GenerateAccessToken(userID, "", role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) customer(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	return s.do(t, method, path, customerID, domain.UserRoleCustomer, body)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func returnDateIn(days int) string {
	return time.Now().UTC().AddDate(0, 0, days).Format(time.DateOnly)
}

func (s *testServer) createRental(t *testing.T) domain.Rental {
	t.Helper()
	rec := s.customer(t, http.MethodPost, "/api/v1/rentals", map[string]any{"car_id": s.car.ID, "return_date": returnDateIn(3)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.Rental](t, rec)
}

func TestRouter_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/rentals", 0, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rentals", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/healthz", 0, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRentalHandlers_Lifecycle(t *testing.T) {
	s := newTestServer(t)
	rental := s.createRental(t)
	assert.Equal(t, customerID, rental.UserID)

	committed, _ := s.store.Car(s.car.ID)
	assert.Equal(t, 1, committed.Inventory)

	rec := s.customer(t, http.MethodGet, fmt.Sprintf("/api/v1/rentals/%d", rental.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.customer(t, http.MethodGet, "/api/v1/rentals?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]domain.Rental](t, rec)
	assert.Len(t, list["rentals"], 1)

	rec = s.customer(t, http.MethodPost, fmt.Sprintf("/api/v1/rentals/%d/return", rental.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[domain.RentalReturn](t, rec)
	assert.NotNil(t, result.Rental.ActualReturnDate)

	committed, _ = s.store.Car(s.car.ID)
	assert.Equal(t, 2, committed.Inventory)

	rec = s.customer(t, http.MethodPost, fmt.Sprintf("/api/v1/rentals/%d/return", rental.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.ErrAlreadyReturned.Code, decode[errorResponse](t, rec).Error.Code)
}

func TestRentalHandlers_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"too short", map[string]any{"car_id": s.car.ID, "return_date": returnDateIn(1)}, http.StatusBadRequest, domain.ErrInvalidRentalDates.Code},
		{"bad date", map[string]any{"car_id": s.car.ID, "return_date": "next week"}, http.StatusBadRequest, domain.ErrInvalidInput.Code},
		{"unknown car", map[string]any{"car_id": 404, "return_date": returnDateIn(3)}, http.StatusNotFound, domain.ErrCarNotFound.Code},
		{"unknown field", map[string]any{"car_id": s.car.ID, "return_date": returnDateIn(3), "discount": 10}, http.StatusBadRequest, domain.ErrInvalidInput.Code},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.customer(t, http.MethodPost, "/api/v1/rentals", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[errorResponse](t, rec).Error.Code)
		})
	}

	rec := s.customer(t, http.MethodGet, "/api/v1/rentals/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCarHandlers(t *testing.T) {
	s := newTestServer(t)
	path := fmt.Sprintf("/api/v1/cars/%d/inventory", s.car.ID)

	rec := s.customer(t, http.MethodPut, path, map[string]any{"quantity": 5, "operation": "SET"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, path, managerID, domain.UserRoleManager, map[string]any{"quantity": 5, "operation": "SET"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5, decode[domain.Car](t, rec).Inventory)

	rec = s.do(t, http.MethodPut, path, managerID, domain.UserRoleManager, map[string]any{"quantity": 9, "operation": "DECREASE"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.customer(t, http.MethodGet, fmt.Sprintf("/api/v1/cars/%d/availability", s.car.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	avail := decode[availabilityResponse](t, rec)
	assert.Equal(t, 5, avail.Inventory)
	assert.True(t, avail.Available)
}

func TestPaymentHandlers_SandboxCheckout(t *testing.T) {
	s := newTestServer(t)
	rental := s.createRental(t)
	body := map[string]any{"rental_id": rental.ID, "type": "PAYMENT"}

	rec := s.customer(t, http.MethodPost, "/api/v1/payments", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payment := decode[domain.Payment](t, rec)
	assert.Equal(t, domain.PaymentStatusPending, payment.Status)
	assert.True(t, decimal.NewFromInt(120).Equal(payment.AmountToPay))

	// A second request points the customer at the open session.
	rec = s.customer(t, http.MethodPost, "/api/v1/payments", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, payment.SessionURL, decode[errorResponse](t, rec).Error.SessionURL)

	rec = s.do(t, http.MethodPost, "/checkout/"+payment.SessionID+"/complete", 0, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.PaymentStatusPaid, decode[domain.Payment](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/api/v1/payments/success?session_id="+payment.SessionID, 0, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PaymentStatusPaid, decode[domain.Payment](t, rec).Status)

	rec = s.customer(t, http.MethodGet, fmt.Sprintf("/api/v1/payments?rental_id=%d&type=PAYMENT", rental.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PaymentStatusPaid, decode[domain.Payment](t, rec).Status)

	rec = s.customer(t, http.MethodPost, "/api/v1/payments", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.ErrPaymentAlreadyPaid.Code, decode[errorResponse](t, rec).Error.Code)
}

func TestPaymentHandlers_Validation(t *testing.T) {
	s := newTestServer(t)

	rec := s.customer(t, http.MethodPost, "/api/v1/payments", map[string]any{"rental_id": 1, "type": "TIP"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.customer(t, http.MethodPost, "/api/v1/payments/renew", map[string]any{"rental_id": 77, "type": "PAYMENT"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/payments/success", 0, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func checkoutEvent(eventID, eventType, sessionID, paymentStatus string, rentalID int64, amount string, amountTotal int64) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "type": %q,
  "data": {"object": {
    "id": %q,
    "object": "checkout.session",
    "payment_status": %q,
    "status": "complete",
    "amount_total": %d,
    "metadata": {"rental_id": "%d", "payment_type": "PAYMENT", "amount": %q}
  }}
}`, eventID, eventType, sessionID, paymentStatus, amountTotal, rentalID, amount))
}

func (s *testServer) deliver(t *testing.T, payload []byte, secret string) *httptest.ResponseRecorder {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) pendingPayment(t *testing.T) (domain.Rental, domain.Payment) {
	t.Helper()
	rental := s.createRental(t)
	rec := s.customer(t, http.MethodPost, "/api/v1/payments", map[string]any{"rental_id": rental.ID, "type": "PAYMENT"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return rental, decode[domain.Payment](t, rec)
}

func TestWebhookHandler_CompletedMarksPaid(t *testing.T) {
	s := newTestServer(t)
	rental, payment := s.pendingPayment(t)

	payload := checkoutEvent("evt_1", "checkout.session.completed", payment.SessionID, "paid", rental.ID, "120.00", 12000)
	rec := s.deliver(t, payload, testWebhookSecret)
	assert.Equal(t, http.StatusOK, rec.Code)

	stored, err := s.store.Payments().GetBySessionID(context.Background(), payment.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, stored.Status)

	// Redelivery is acknowledged without reprocessing.
	rec = s.deliver(t, payload, testWebhookSecret)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookHandler_UnpaidCompletionIsIgnored(t *testing.T) {
	s := newTestServer(t)
	rental, payment := s.pendingPayment(t)

	rec := s.deliver(t, checkoutEvent("evt_2", "checkout.session.completed", payment.SessionID, "unpaid", rental.ID, "120.00", 12000), testWebhookSecret)
	assert.Equal(t, http.StatusOK, rec.Code)

	stored, err := s.store.Payments().GetBySessionID(context.Background(), payment.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, stored.Status)
}

func TestWebhookHandler_AmountMismatchIsAcknowledged(t *testing.T) {
	s := newTestServer(t)
	rental, payment := s.pendingPayment(t)

	rec := s.deliver(t, checkoutEvent("evt_3", "checkout.session.completed", payment.SessionID, "paid", rental.ID, "1.00", 100), testWebhookSecret)
	assert.Equal(t, http.StatusOK, rec.Code)

	stored, err := s.store.Payments().GetBySessionID(context.Background(), payment.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, stored.Status)
}

func TestWebhookHandler_ChargedTotalMustMatchMetadata(t *testing.T) {
	s := newTestServer(t)
	rental, payment := s.pendingPayment(t)

	rec := s.deliver(t, checkoutEvent("evt_6", "checkout.session.completed", payment.SessionID, "paid", rental.ID, "120.00", 100), testWebhookSecret)
	assert.Equal(t, http.StatusOK, rec.Code)

	stored, err := s.store.Payments().GetBySessionID(context.Background(), payment.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, stored.Status)
}

func TestWebhookHandler_ExpiredSession(t *testing.T) {
	s := newTestServer(t)
	rental, payment := s.pendingPayment(t)

	rec := s.deliver(t, checkoutEvent("evt_4", "checkout.session.expired", payment.SessionID, "unpaid", rental.ID, "120.00", 12000), testWebhookSecret)
	assert.Equal(t, http.StatusOK, rec.Code)

	stored, err := s.store.Payments().GetBySessionID(context.Background(), payment.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusExpired, stored.Status)
}

func TestWebhookHandler_BadSignature(t *testing.T) {
	s := newTestServer(t)
	rec := s.deliver(t, checkoutEvent("evt_5", "checkout.session.completed", "cs_x", "paid", 1, "1.00", 100), "whsec_wrong")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(domain.ErrRentalNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrInvalidQuantity))
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("wrapped: %w", domain.ErrLockTimeout)))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(domain.ErrInvalidPaymentAmount))
	assert.Equal(t, http.StatusForbidden, statusFor(domain.ErrForbidden))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("dial tcp: refused")))
	assert.Equal(t, http.StatusConflict, statusFor(&domain.PendingPaymentError{SessionURL: "u"}))
}

func TestWriteError_HidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("pq: password authentication failed"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, strings.Contains(rec.Body.String(), "password"))
}
