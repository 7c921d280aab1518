package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/gateway/sandbox"
	"carrental-backend/internal/repository/memory"
)

// MockNotifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, n domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// sent reads Calls directly; call it only after concurrent senders finished.
func (m *MockNotifier) sent(t domain.NotificationType) []domain.Notification {
	var out []domain.Notification
	for _, c := range m.Calls {
		if n := c.Arguments.Get(1).(domain.Notification); n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// MockGateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateSession(ctx context.Context, req domain.SessionRequest) (*domain.Session, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockGateway) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockGateway) IsSessionExpired(ctx context.Context, sessionID string) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

const (
	customerID      = int64(1)
	otherCustomerID = int64(2)
	managerID       = int64(9)
)

type fixture struct {
	clock     *fakeClock
	store     *memory.Store
	gateway   *sandbox.Gateway
	notifier  *MockNotifier
	inventory InventoryService
	rentals   RentalService
	payments  PaymentService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithGateway(t, nil)
}

// newFixtureWithGateway wires the services over the memory store. A nil gw
// selects the sandbox gateway.
func newFixtureWithGateway(t *testing.T, gw PaymentGateway) *fixture {
	t.Helper()

	clock := &fakeClock{t: time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC)}
	store := memory.NewStore(memory.WithClock(clock.Now))
	store.AddUser(domain.User{ID: customerID, Email: "ann@example.com", Name: "Ann", Role: domain.UserRoleCustomer})
	store.AddUser(domain.User{ID: otherCustomerID, Email: "bob@example.com", Name: "Bob", Role: domain.UserRoleCustomer})
	store.AddUser(domain.User{ID: managerID, Email: "desk@example.com", Name: "Desk", Role: domain.UserRoleManager})

	sb := sandbox.New("http://localhost:8080", sandbox.WithClock(clock.Now))
	if gw == nil {
		gw = sb
	}

	notifier := new(MockNotifier)
	notifier.On("Send", mock.Anything, mock.Anything).Return(nil)

	inventory := NewInventoryService(store)
	rentals := NewRentalService(store, inventory, NewRoleAccessChecker(), notifier, DefaultRentalPolicy(), clock.Now)
	payments := NewPaymentService(store, rentals, gw, notifier, PaymentURLs{
		SuccessURL: "http://localhost:8080/api/v1/payments/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "http://localhost:8080/cancel",
	}, clock.Now)

	return &fixture{
		clock:     clock,
		store:     store,
		gateway:   sb,
		notifier:  notifier,
		inventory: inventory,
		rentals:   rentals,
		payments:  payments,
	}
}

func (f *fixture) addCar(inventory int, fee int64) domain.Car {
	return f.store.AddCar(domain.Car{Brand: "Toyota", Model: "Yaris", Inventory: inventory, DailyFee: decimal.NewFromInt(fee)})
}

func (f *fixture) daysFromToday(days int) time.Time {
	return f.clock.Now().AddDate(0, 0, days)
}
