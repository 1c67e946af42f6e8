package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Metadata keys attached to every checkout session.
const (
	MetaBookTitle     = "bookTitle"
	MetaCustomerEmail = "customerEmail"
	MetaCustomerName  = "customerName"
	MetaGenre         = "genre"
	MetaMystery       = "mystery"
)

// PaymentStatusPaid is the normalised status of a completed session.
const PaymentStatusPaid = "paid"

var (
	// ErrSessionNotFound is returned when a session id is unknown to the gateway.
	ErrSessionNotFound = errors.New("payments: session not found")
	// ErrInvalidRequest is returned when a checkout request lacks required data.
	ErrInvalidRequest = errors.New("payments: invalid checkout request")
)

// CheckoutRequest describes the single-item order handed to a gateway.
type CheckoutRequest struct {
	BookTitle     string
	Genre         string
	Mystery       bool
	Label         string
	CustomerEmail string
	CustomerName  string
	Amount        decimal.Decimal
	Currency      string
	// SuccessURL and CancelURL default to the gateway base URL routes when empty.
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// Metadata returns the key/value pairs recorded on the remote session.
func (r CheckoutRequest) Metadata() map[string]string {
	meta := map[string]string{
		MetaBookTitle:     r.BookTitle,
		MetaCustomerEmail: r.CustomerEmail,
		MetaCustomerName:  r.CustomerName,
	}
	if r.Genre != "" {
		meta[MetaGenre] = r.Genre
	}
	if r.Mystery {
		meta[MetaMystery] = "true"
	}
	return meta
}

func (r CheckoutRequest) validate() error {
	switch {
	case strings.TrimSpace(r.CustomerEmail) == "":
		return errors.Join(ErrInvalidRequest, errors.New("customer email is required"))
	case strings.TrimSpace(r.CustomerName) == "":
		return errors.Join(ErrInvalidRequest, errors.New("customer name is required"))
	case !r.Amount.IsPositive():
		return errors.Join(ErrInvalidRequest, errors.New("amount must be positive"))
	}
	return nil
}

// Session is the hosted checkout session returned to the browser.
type Session struct {
	ID        string
	URL       string
	Provider  string
	ExpiresAt time.Time
}

// SessionDetails is the confirmation view of a session after the customer returns.
type SessionDetails struct {
	ID            string
	PaymentStatus string
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
	CustomerName  string
	Metadata      map[string]string
}

// Paid reports whether the gateway considers the session settled.
func (d SessionDetails) Paid() bool {
	return d.PaymentStatus == PaymentStatusPaid
}

// OrderID is the short customer-facing reference derived from the session id.
func (d SessionDetails) OrderID() string {
	return ShortOrderID(d.ID)
}

// ShortOrderID returns the last eight characters of a session id.
func ShortOrderID(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[len(sessionID)-8:]
}

// Gateway creates and retrieves hosted checkout sessions.
type Gateway interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (Session, error)
	RetrieveSession(ctx context.Context, id string) (SessionDetails, error)
}

// Logger mirrors the event hook used by the services layer.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// toMinorUnits converts a decimal amount into the smallest currency unit.
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
