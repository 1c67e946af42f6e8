package services

import (
	"context"
	"time"

	"github.com/mysterybooks/storefront/internal/domain"
	"github.com/mysterybooks/storefront/internal/payments"
)

// OrderConfirmedEvent is emitted once per paid checkout session.
type OrderConfirmedEvent struct {
	EventID       string    `json:"eventId"`
	OrderID       string    `json:"orderId"`
	SessionID     string    `json:"sessionId"`
	BookTitle     string    `json:"bookTitle"`
	Genre         string    `json:"genre,omitempty"`
	Mystery       bool      `json:"mystery"`
	CustomerEmail string    `json:"customerEmail"`
	CustomerName  string    `json:"customerName"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	PaymentStatus string    `json:"paymentStatus"`
	ConfirmedAt   time.Time `json:"confirmedAt"`
}

// OrderEventPublisher fans out order confirmations to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderConfirmed(ctx context.Context, event OrderConfirmedEvent) (string, error)
}

// Mailer delivers the customer-facing confirmation email.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, event OrderConfirmedEvent) error
}

// CatalogLoader yields the catalog to serve; it never fails.
type CatalogLoader interface {
	Load(ctx context.Context) domain.Catalog
}

// CheckoutService creates hosted checkout sessions and confirms returning customers.
type CheckoutService interface {
	CreateSession(ctx context.Context, cmd CreateSessionCommand) (payments.Session, error)
	ConfirmOrder(ctx context.Context, sessionID string) (OrderConfirmation, error)
	Provider() string
}

// CreateSessionCommand carries a purchase intent from either the JSON API or the storefront.
type CreateSessionCommand struct {
	BookTitle      string
	Genre          string
	Mystery        bool
	Label          string
	CustomerEmail  string
	CustomerName   string
	IdempotencyKey string
}

// OrderConfirmation is rendered on the success page.
type OrderConfirmation struct {
	OrderID       string
	SessionID     string
	BookTitle     string
	Genre         string
	Mystery       bool
	CustomerEmail string
	CustomerName  string
	Amount        string
	Currency      string
	PaymentStatus string
	Paid          bool
}
