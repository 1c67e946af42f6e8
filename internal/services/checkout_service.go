package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/mysterybooks/storefront/internal/payments"
	"github.com/mysterybooks/storefront/internal/platform/observability"
)

const (
	defaultCheckoutCurrency = "GBP"
	confirmedSessionTTL     = 24 * time.Hour
)

var (
	// ErrCheckoutInvalidInput indicates the caller omitted customer details.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are missing.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutPaymentFailed indicates the gateway could not create a session.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrCheckoutSessionNotFound indicates the returning session id is unknown.
	ErrCheckoutSessionNotFound = errors.New("checkout: session not found")
	// ErrCheckoutLookupFailed indicates the gateway could not report on a session.
	ErrCheckoutLookupFailed = errors.New("checkout: session lookup failed")
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Gateway   payments.Gateway
	Provider  string
	Publisher OrderEventPublisher
	Mailer    Mailer
	Price     decimal.Decimal
	Currency  string
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
	EventIDs  func() string
}

type checkoutService struct {
	gateway   payments.Gateway
	provider  string
	publisher OrderEventPublisher
	mailer    Mailer
	price     decimal.Decimal
	currency  string
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
	eventIDs  func() string
	outcomes  observability.Counter

	mu        sync.Mutex
	confirmed map[string]time.Time
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	if !deps.Price.IsPositive() {
		return nil, errors.New("checkout service: price must be positive")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}
	eventIDs := deps.EventIDs
	if eventIDs == nil {
		eventIDs = func() string { return ulid.Make().String() }
	}

	return &checkoutService{
		gateway:   deps.Gateway,
		provider:  deps.Provider,
		publisher: deps.Publisher,
		mailer:    deps.Mailer,
		price:     deps.Price,
		currency:  currency,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:    logger,
		eventIDs:  eventIDs,
		outcomes:  observability.NewCounter("checkout.sessions", "Checkout session attempts by outcome", nil),
		confirmed: make(map[string]time.Time),
	}, nil
}

func (s *checkoutService) Provider() string { return s.provider }

// CreateSession validates the customer and opens a gateway session at the fixed price.
func (s *checkoutService) CreateSession(ctx context.Context, cmd CreateSessionCommand) (payments.Session, error) {
	if s == nil || s.gateway == nil {
		return payments.Session{}, ErrCheckoutUnavailable
	}
	email := strings.TrimSpace(cmd.CustomerEmail)
	name := strings.TrimSpace(cmd.CustomerName)
	if email == "" || name == "" {
		return payments.Session{}, fmt.Errorf("%w: email and name are required", ErrCheckoutInvalidInput)
	}
	title := strings.TrimSpace(cmd.BookTitle)
	if title == "" {
		title = "Mystery Book"
	}

	session, err := s.gateway.CreateSession(ctx, payments.CheckoutRequest{
		BookTitle:      title,
		Genre:          strings.TrimSpace(cmd.Genre),
		Mystery:        cmd.Mystery,
		Label:          strings.TrimSpace(cmd.Label),
		CustomerEmail:  email,
		CustomerName:   name,
		Amount:         s.price,
		Currency:       s.currency,
		IdempotencyKey: cmd.IdempotencyKey,
	})
	if err != nil {
		s.outcomes.Add(ctx, "outcome", "failed", "provider", s.provider)
		s.logger(ctx, "checkout.session.failed", map[string]any{
			"bookTitle": title,
			"error":     err.Error(),
		})
		return payments.Session{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}

	s.outcomes.Add(ctx, "outcome", "created", "provider", s.provider)
	s.logger(ctx, "checkout.session.created", map[string]any{
		"sessionId": session.ID,
		"bookTitle": title,
		"provider":  session.Provider,
	})
	return session, nil
}

// ConfirmOrder looks up a returning session. Paid sessions are announced once: the event is
// published and the confirmation email sent on first sight, and reloads of the success page
// only re-render.
func (s *checkoutService) ConfirmOrder(ctx context.Context, sessionID string) (OrderConfirmation, error) {
	if s == nil || s.gateway == nil {
		return OrderConfirmation{}, ErrCheckoutUnavailable
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return OrderConfirmation{}, fmt.Errorf("%w: session id is required", ErrCheckoutInvalidInput)
	}

	details, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		s.logger(ctx, "checkout.session.lookup_failed", map[string]any{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
		if errors.Is(err, payments.ErrSessionNotFound) {
			return OrderConfirmation{}, fmt.Errorf("%w: %s", ErrCheckoutSessionNotFound, sessionID)
		}
		return OrderConfirmation{}, fmt.Errorf("%w: %v", ErrCheckoutLookupFailed, err)
	}

	confirmation := confirmationFromDetails(details)
	if confirmation.Paid && s.markConfirmed(sessionID) {
		s.announce(ctx, confirmation)
	}
	return confirmation, nil
}

func (s *checkoutService) markConfirmed(sessionID string) bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range s.confirmed {
		if now.Sub(at) > confirmedSessionTTL {
			delete(s.confirmed, id)
		}
	}
	if _, seen := s.confirmed[sessionID]; seen {
		return false
	}
	s.confirmed[sessionID] = now
	return true
}

func (s *checkoutService) announce(ctx context.Context, c OrderConfirmation) {
	event := OrderConfirmedEvent{
		EventID:       s.eventIDs(),
		OrderID:       c.OrderID,
		SessionID:     c.SessionID,
		BookTitle:     c.BookTitle,
		Genre:         c.Genre,
		Mystery:       c.Mystery,
		CustomerEmail: c.CustomerEmail,
		CustomerName:  c.CustomerName,
		Amount:        c.Amount,
		Currency:      c.Currency,
		PaymentStatus: c.PaymentStatus,
		ConfirmedAt:   s.now(),
	}

	if s.publisher != nil {
		if id, err := s.publisher.PublishOrderConfirmed(ctx, event); err != nil {
			s.logger(ctx, "checkout.order.publish_failed", map[string]any{
				"orderId": event.OrderID,
				"error":   err.Error(),
			})
		} else {
			s.logger(ctx, "checkout.order.published", map[string]any{
				"orderId":   event.OrderID,
				"messageId": id,
			})
		}
	}
	if s.mailer != nil && event.CustomerEmail != "" {
		if err := s.mailer.SendOrderConfirmation(ctx, event); err != nil {
			s.logger(ctx, "checkout.order.email_failed", map[string]any{
				"orderId": event.OrderID,
				"error":   err.Error(),
			})
		}
	}
}

func confirmationFromDetails(d payments.SessionDetails) OrderConfirmation {
	return OrderConfirmation{
		OrderID:       d.OrderID(),
		SessionID:     d.ID,
		BookTitle:     d.Metadata[payments.MetaBookTitle],
		Genre:         d.Metadata[payments.MetaGenre],
		Mystery:       d.Metadata[payments.MetaMystery] == "true",
		CustomerEmail: d.CustomerEmail,
		CustomerName:  d.CustomerName,
		Amount:        d.Amount.StringFixed(2),
		Currency:      d.Currency,
		PaymentStatus: d.PaymentStatus,
		Paid:          d.Paid(),
	}
}
