// Package sandbox is an in-process payment gateway for local development
// and tests. Sessions are never charged; Complete and Expire drive them the
// way a customer or the provider would.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
)

type Gateway struct {
	mu       sync.Mutex
	baseURL  string
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*entry
}

type entry struct {
	session   domain.Session
	createdAt time.Time
}

type Option func(*Gateway)

// WithTTL sets how long a session stays open before it counts as expired.
func WithTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		g.ttl = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

func New(baseURL string, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL:  strings.TrimRight(baseURL, "/"),
		ttl:      24 * time.Hour,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) CreateSession(_ context.Context, req domain.SessionRequest) (*domain.Session, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("sandbox: amount must be positive, got %s", req.Amount)
	}

	id := "cs_sandbox_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	meta := req.Metadata
	meta.SessionID = id
	s := domain.Session{
		ID:       id,
		URL:      g.baseURL + "/checkout/" + id,
		Amount:   req.Amount,
		Metadata: meta,
	}

	g.mu.Lock()
	g.sessions[id] = &entry{session: s, createdAt: g.now()}
	g.mu.Unlock()

	logger.Debug("Sandbox session created", "sessionID", id, "amount", req.Amount)
	return &s, nil
}

func (g *Gateway) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("sandbox: no such session %q", sessionID)
	}
	s := e.session
	s.Expired = g.expired(e)
	return &s, nil
}

func (g *Gateway) IsSessionExpired(ctx context.Context, sessionID string) (bool, error) {
	s, err := g.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return s.Expired, nil
}

func (g *Gateway) expired(e *entry) bool {
	if e.session.Paid {
		return false
	}
	return e.session.Expired || g.now().Sub(e.createdAt) >= g.ttl
}

// Complete marks the session paid and returns the metadata a webhook would
// carry.
func (g *Gateway) Complete(sessionID string) (domain.SessionMetadata, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.sessions[sessionID]
	if !ok {
		return domain.SessionMetadata{}, fmt.Errorf("sandbox: no such session %q", sessionID)
	}
	if g.expired(e) {
		return domain.SessionMetadata{}, fmt.Errorf("sandbox: session %q expired", sessionID)
	}
	e.session.Paid = true
	return e.session.Metadata, nil
}

// Expire closes the session without payment.
func (g *Gateway) Expire(sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.sessions[sessionID]
	if !ok {
		return fmt.Errorf("sandbox: no such session %q", sessionID)
	}
	if !e.session.Paid {
		e.session.Expired = true
	}
	return nil
}
