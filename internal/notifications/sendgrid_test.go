package notifications

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/mysterybooks/storefront/internal/services"
)

type fakeSendClient struct {
	sent   *mail.SGMailV3
	status int
	err    error
}

func (f *fakeSendClient) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = email
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status, Body: "body"}, nil
}

func sampleEvent() services.OrderConfirmedEvent {
	return services.OrderConfirmedEvent{
		OrderID:       "12345678",
		BookTitle:     "Dune",
		Genre:         "sci-fi",
		Mystery:       true,
		CustomerEmail: "ada@example.com",
		CustomerName:  "Ada",
		Amount:        "5.00",
		Currency:      "GBP",
	}
}

func TestNewSendGridMailerValidation(t *testing.T) {
	if _, err := NewSendGridMailer("SG.key", "", ""); !errors.Is(err, ErrMissingSender) {
		t.Fatalf("expected ErrMissingSender, got %v", err)
	}
	if _, err := NewSendGridMailer("", "shop@example.com", ""); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestSendOrderConfirmationBuildsMessage(t *testing.T) {
	client := &fakeSendClient{status: 202}
	var events []string
	m, err := NewSendGridMailer("", "shop@example.com", "", withClient(client), WithLogger(func(_ context.Context, e string, _ map[string]any) {
		events = append(events, e)
	}))
	if err != nil {
		t.Fatalf("NewSendGridMailer: %v", err)
	}

	if err := m.SendOrderConfirmation(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("SendOrderConfirmation: %v", err)
	}
	msg := client.sent
	if msg.From.Address != "shop@example.com" || msg.From.Name != defaultFromName {
		t.Fatalf("unexpected sender %#v", msg.From)
	}
	if msg.Subject != "Your Mystery Books order 12345678" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if got := msg.Personalizations[0].To[0].Address; got != "ada@example.com" {
		t.Fatalf("unexpected recipient %s", got)
	}
	if !strings.Contains(msg.Content[0].Value, "mystery sci-fi book") {
		t.Fatalf("mystery orders must not reveal the title: %s", msg.Content[0].Value)
	}
	if strings.Contains(msg.Content[0].Value, "Dune") {
		t.Fatalf("title leaked into mystery email")
	}
	if len(events) != 1 {
		t.Fatalf("expected a sent event, got %v", events)
	}
}

func TestSendOrderConfirmationErrors(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeSendClient
		event  services.OrderConfirmedEvent
	}{
		{"transport", &fakeSendClient{err: errors.New("dial tcp")}, sampleEvent()},
		{"status", &fakeSendClient{status: 401}, sampleEvent()},
		{"no recipient", &fakeSendClient{status: 202}, services.OrderConfirmedEvent{OrderID: "x"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := NewSendGridMailer("", "shop@example.com", "Shop", withClient(tc.client))
			if err := m.SendOrderConfirmation(context.Background(), tc.event); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
