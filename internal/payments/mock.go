package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ProviderMock identifies sessions created without a payment processor.
const ProviderMock = "mock"

const mockSessionTTL = 30 * time.Minute

type mockSession struct {
	req       CheckoutRequest
	expiresAt time.Time
}

// MockGateway records sessions in memory and reports every one as paid.
// It keeps the storefront usable without Stripe credentials.
type MockGateway struct {
	baseURL string
	clock   func() time.Time
	logger  Logger
	newID   func() string

	mu       sync.Mutex
	sessions map[string]mockSession
}

// MockOption customises a MockGateway.
type MockOption func(*MockGateway)

// WithMockClock overrides the clock used to timestamp sessions.
func WithMockClock(clock func() time.Time) MockOption {
	return func(g *MockGateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithMockLogger sets the event logger.
func WithMockLogger(logger Logger) MockOption {
	return func(g *MockGateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMockIDs overrides session id generation.
func WithMockIDs(newID func() string) MockOption {
	return func(g *MockGateway) {
		if newID != nil {
			g.newID = newID
		}
	}
}

// NewMockGateway constructs a MockGateway whose checkout URLs point back at baseURL.
func NewMockGateway(baseURL string, opts ...MockOption) *MockGateway {
	g := &MockGateway{
		baseURL:  strings.TrimSpace(baseURL),
		clock:    time.Now,
		logger:   noopLogger,
		newID:    randomMockID,
		sessions: make(map[string]mockSession),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// CreateSession stores the request and returns a checkout URL that lands on /success. Expired
// sessions are dropped on the way.
func (g *MockGateway) CreateSession(ctx context.Context, req CheckoutRequest) (Session, error) {
	if err := req.validate(); err != nil {
		return Session{}, err
	}
	id := g.newID()
	now := g.clock().UTC()
	expiresAt := now.Add(mockSessionTTL)

	g.mu.Lock()
	for sid, stored := range g.sessions {
		if now.After(stored.expiresAt) {
			delete(g.sessions, sid)
		}
	}
	g.sessions[id] = mockSession{req: req, expiresAt: expiresAt}
	g.mu.Unlock()

	g.logger(ctx, "payments.mock.session.created", map[string]any{
		"sessionId": id,
		"bookTitle": req.BookTitle,
	})

	return Session{
		ID:        id,
		URL:       joinURL(g.baseURL, "/success?session_id="+url.QueryEscape(id)),
		Provider:  ProviderMock,
		ExpiresAt: expiresAt,
	}, nil
}

// RetrieveSession returns the captured request as a paid session. Sessions past their expiry
// are reported as not found.
func (g *MockGateway) RetrieveSession(_ context.Context, id string) (SessionDetails, error) {
	g.mu.Lock()
	stored, ok := g.sessions[strings.TrimSpace(id)]
	g.mu.Unlock()
	if !ok || g.clock().UTC().After(stored.expiresAt) {
		return SessionDetails{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return SessionDetails{
		ID:            id,
		PaymentStatus: PaymentStatusPaid,
		Amount:        stored.req.Amount,
		Currency:      strings.ToUpper(stored.req.Currency),
		CustomerEmail: stored.req.CustomerEmail,
		CustomerName:  stored.req.CustomerName,
		Metadata:      stored.req.Metadata(),
	}, nil
}

func randomMockID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("mock_session_%d", time.Now().UnixNano())
	}
	return "mock_session_" + hex.EncodeToString(buf)
}
