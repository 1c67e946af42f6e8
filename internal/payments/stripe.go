package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// ProviderStripe identifies sessions created through Stripe Checkout.
const ProviderStripe = "stripe"

// Shipping destinations offered on the hosted checkout page.
var shippingCountries = []string{"GB", "US", "CA", "AU"}

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeConfig configures the StripeGateway.
type StripeConfig struct {
	APIKey   string
	BaseURL  string
	Backends *stripe.Backends
	Logger   Logger
	Clock    func() time.Time
	sessions stripeSessionAPI
}

// StripeGateway implements Gateway with Stripe Checkout sessions.
type StripeGateway struct {
	sessions stripeSessionAPI
	baseURL  string
	clock    func() time.Time
	logger   Logger
}

// NewStripeGateway constructs a Stripe-backed gateway.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}
	sessions := cfg.sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &StripeGateway{
		sessions: sessions,
		baseURL:  strings.TrimSpace(cfg.BaseURL),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateSession creates a one-item Stripe Checkout session for the book.
func (g *StripeGateway) CreateSession(ctx context.Context, req CheckoutRequest) (Session, error) {
	if g == nil {
		return Session{}, errors.New("stripe: gateway is nil")
	}
	if err := req.validate(); err != nil {
		return Session{}, err
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = joinURL(g.baseURL, "/success?session_id={CHECKOUT_SESSION_ID}")
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = joinURL(g.baseURL, "/?canceled=true")
	}

	name := req.Label
	if name == "" {
		name = req.BookTitle
	}

	params := &stripe.CheckoutSessionParams{
		Mode:                     stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes:       stripe.StringSlice([]string{"card"}),
		SuccessURL:               stripe.String(successURL),
		CancelURL:                stripe.String(cancelURL),
		CustomerEmail:            stripe.String(req.CustomerEmail),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
		ShippingAddressCollection: &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(shippingCountries),
		},
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(toMinorUnits(req.Amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(name),
					Description: stripe.String(fmt.Sprintf("A surprise %s book", req.Genre)),
				},
			},
		}},
		Metadata: req.Metadata(),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	session, err := g.sessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	g.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"currency":  session.Currency,
	})

	expiresAt := g.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return Session{
		ID:        session.ID,
		URL:       session.URL,
		Provider:  ProviderStripe,
		ExpiresAt: expiresAt,
	}, nil
}

// RetrieveSession fetches a session and normalises its payment details.
func (g *StripeGateway) RetrieveSession(ctx context.Context, id string) (SessionDetails, error) {
	if g == nil {
		return SessionDetails{}, errors.New("stripe: gateway is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return SessionDetails{}, ErrSessionNotFound
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := g.sessions.Get(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return SessionDetails{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return SessionDetails{}, fmt.Errorf("stripe: retrieve checkout session: %w", err)
	}
	return stripeSessionDetails(session), nil
}

func stripeSessionDetails(session *stripe.CheckoutSession) SessionDetails {
	if session == nil {
		return SessionDetails{}
	}
	details := SessionDetails{
		ID:            session.ID,
		PaymentStatus: string(session.PaymentStatus),
		Amount:        fromMinorUnits(session.AmountTotal),
		Currency:      strings.ToUpper(string(session.Currency)),
		CustomerEmail: session.CustomerEmail,
		Metadata:      map[string]string{},
	}
	for k, v := range session.Metadata {
		details.Metadata[k] = v
	}
	if session.CustomerDetails != nil {
		if session.CustomerDetails.Email != "" {
			details.CustomerEmail = session.CustomerDetails.Email
		}
		details.CustomerName = session.CustomerDetails.Name
	}
	if details.CustomerEmail == "" {
		details.CustomerEmail = details.Metadata[MetaCustomerEmail]
	}
	if details.CustomerName == "" {
		details.CustomerName = details.Metadata[MetaCustomerName]
	}
	return details
}
