package payments

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"

	"github.com/mysterybooks/storefront/internal/platform/config"
)

type fakeSessions struct {
	created *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	getID   string
	err     error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.created = params
	return f.session, f.err
}

func (f *fakeSessions) Get(id string, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.getID = id
	return f.session, f.err
}

func sampleRequest() CheckoutRequest {
	return CheckoutRequest{
		BookTitle:     "Gone Girl",
		Genre:         "thriller",
		Mystery:       true,
		Label:         "Mystery Book",
		CustomerEmail: "ada@example.com",
		CustomerName:  "Ada",
		Amount:        decimal.RequireFromString("5.00"),
		Currency:      "GBP",
	}
}

func TestStripeCreateSessionBuildsParams(t *testing.T) {
	fake := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_test_123", URL: "https://checkout.stripe.test/cs_test_123"}}
	var events []string
	gw, err := NewStripeGateway(StripeConfig{
		BaseURL:  "https://shop.example/",
		sessions: fake,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	session, err := gw.CreateSession(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_test_123" || session.Provider != ProviderStripe {
		t.Fatalf("unexpected session %#v", session)
	}

	p := fake.created
	if got := *p.SuccessURL; got != "https://shop.example/success?session_id={CHECKOUT_SESSION_ID}" {
		t.Fatalf("unexpected success url %s", got)
	}
	if got := *p.CancelURL; got != "https://shop.example/?canceled=true" {
		t.Fatalf("unexpected cancel url %s", got)
	}
	if len(p.LineItems) != 1 {
		t.Fatalf("expected one line item, got %d", len(p.LineItems))
	}
	price := p.LineItems[0].PriceData
	if *price.UnitAmount != 500 || *price.Currency != "gbp" {
		t.Fatalf("unexpected price %d %s", *price.UnitAmount, *price.Currency)
	}
	if *price.ProductData.Name != "Mystery Book" {
		t.Fatalf("expected label as product name, got %s", *price.ProductData.Name)
	}
	if p.Metadata[MetaBookTitle] != "Gone Girl" || p.Metadata[MetaMystery] != "true" {
		t.Fatalf("unexpected metadata %v", p.Metadata)
	}
	if len(p.ShippingAddressCollection.AllowedCountries) != 4 {
		t.Fatalf("expected four shipping countries")
	}
	if len(events) != 1 || events[0] != "payments.stripe.session.created" {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestStripeCreateSessionWrapsErrors(t *testing.T) {
	apiErr := errors.New("card network down")
	gw, _ := NewStripeGateway(StripeConfig{sessions: &fakeSessions{err: apiErr}})
	if _, err := gw.CreateSession(context.Background(), sampleRequest()); !errors.Is(err, apiErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestStripeCreateSessionRejectsMissingCustomer(t *testing.T) {
	fake := &fakeSessions{}
	gw, _ := NewStripeGateway(StripeConfig{sessions: fake})
	req := sampleRequest()
	req.CustomerName = " "
	if _, err := gw.CreateSession(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if fake.created != nil {
		t.Fatalf("gateway must not be called")
	}
}

func TestStripeRetrieveSessionNormalises(t *testing.T) {
	fake := &fakeSessions{session: &stripe.CheckoutSession{
		ID:            "cs_test_abcdefgh12345678",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:   500,
		Currency:      stripe.CurrencyGBP,
		Metadata:      map[string]string{MetaBookTitle: "Dune", MetaCustomerName: "Ada"},
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{
			Email: "ada@example.com",
		},
	}}
	gw, _ := NewStripeGateway(StripeConfig{sessions: fake})

	details, err := gw.RetrieveSession(context.Background(), "cs_test_abcdefgh12345678")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !details.Paid() {
		t.Fatalf("expected paid session")
	}
	if details.Amount.StringFixed(2) != "5.00" || details.Currency != "GBP" {
		t.Fatalf("unexpected amount %s %s", details.Amount, details.Currency)
	}
	if details.CustomerEmail != "ada@example.com" || details.CustomerName != "Ada" {
		t.Fatalf("unexpected customer %s %s", details.CustomerEmail, details.CustomerName)
	}
	if details.OrderID() != "12345678" {
		t.Fatalf("unexpected order id %s", details.OrderID())
	}
}

func TestStripeRetrieveSessionNotFound(t *testing.T) {
	fake := &fakeSessions{err: &stripe.Error{HTTPStatusCode: 404, Msg: "No such checkout.session"}}
	gw, _ := NewStripeGateway(StripeConfig{sessions: fake})
	if _, err := gw.RetrieveSession(context.Background(), "cs_missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMockGatewayRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	gw := NewMockGateway("http://localhost:8080", WithMockClock(func() time.Time { return now }), WithMockIDs(func() string { return "mock_session_00ff" }))

	session, err := gw.CreateSession(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.URL != "http://localhost:8080/success?session_id=mock_session_00ff" {
		t.Fatalf("unexpected url %s", session.URL)
	}
	if !session.ExpiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", session.ExpiresAt)
	}

	details, err := gw.RetrieveSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !details.Paid() || details.Metadata[MetaBookTitle] != "Gone Girl" {
		t.Fatalf("unexpected details %#v", details)
	}

	if _, err := gw.RetrieveSession(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMockGatewayEvictsExpiredSessions(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := []string{"mock_session_old", "mock_session_new"}
	gw := NewMockGateway("", WithMockClock(func() time.Time { return now }), WithMockIDs(func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}))

	if _, err := gw.CreateSession(context.Background(), sampleRequest()); err != nil {
		t.Fatalf("create: %v", err)
	}
	now = now.Add(31 * time.Minute)
	if _, err := gw.RetrieveSession(context.Background(), "mock_session_old"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session to be gone, got %v", err)
	}
	if _, err := gw.CreateSession(context.Background(), sampleRequest()); err != nil {
		t.Fatalf("create: %v", err)
	}

	gw.mu.Lock()
	_, kept := gw.sessions["mock_session_old"]
	count := len(gw.sessions)
	gw.mu.Unlock()
	if kept || count != 1 {
		t.Fatalf("expected only the new session to remain, got %d (old kept: %v)", count, kept)
	}
	if _, err := gw.RetrieveSession(context.Background(), "mock_session_new"); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
}

func TestRandomMockIDPrefix(t *testing.T) {
	id := randomMockID()
	if !strings.HasPrefix(id, "mock_session_") || len(id) != len("mock_session_")+24 {
		t.Fatalf("unexpected id %s", id)
	}
}

func TestNewGatewayFromConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.PaymentsConfig
		want string
	}{
		{"auto without key", config.PaymentsConfig{Mode: config.PaymentsAuto}, ProviderMock},
		{"auto with placeholder", config.PaymentsConfig{Mode: config.PaymentsAuto, StripeSecretKey: "your_key_here"}, ProviderMock},
		{"auto with test key", config.PaymentsConfig{Mode: config.PaymentsAuto, StripeSecretKey: "sk_test_abc"}, ProviderStripe},
		{"forced mock", config.PaymentsConfig{Mode: config.PaymentsMock, StripeSecretKey: "sk_live_abc"}, ProviderMock},
		{"forced stripe", config.PaymentsConfig{Mode: config.PaymentsStripe, StripeSecretKey: "rk_restricted"}, ProviderStripe},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, provider, err := NewGatewayFromConfig(tc.cfg, "http://localhost", nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if provider != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, provider)
			}
		})
	}

	if _, _, err := NewGatewayFromConfig(config.PaymentsConfig{Mode: "paypal"}, "", nil); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}

func TestKeyType(t *testing.T) {
	cases := map[string]string{"": "none", "sk_test_1": "test", "sk_live_1": "live", "pk_test_1": "invalid"}
	for key, want := range cases {
		if got := KeyType(key); got != want {
			t.Errorf("KeyType(%q) = %s, want %s", key, got, want)
		}
	}
}
