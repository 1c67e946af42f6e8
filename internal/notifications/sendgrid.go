package notifications

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/mysterybooks/storefront/internal/services"
)

const defaultFromName = "Mystery Books"

var (
	// ErrMissingAPIKey is returned when the mailer is built without credentials.
	ErrMissingAPIKey = errors.New("notifications: sendgrid api key is required")
	// ErrMissingSender is returned when no from address is configured.
	ErrMissingSender = errors.New("notifications: sender address is required")
)

type sendClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

var (
	textBody = texttemplate.Must(texttemplate.New("text").Parse(`Hi {{.CustomerName}},

Thanks for your order! Your {{if .Mystery}}mystery {{.Genre}} book{{else}}copy of "{{.BookTitle}}"{{end}} is on its way.

Order ID: {{.OrderID}}
Amount:   {{.Amount}} {{.Currency}}

Happy reading!
`))
	htmlBody = htmltemplate.Must(htmltemplate.New("html").Parse(`<p>Hi {{.CustomerName}},</p>
<p>Thanks for your order! Your {{if .Mystery}}mystery {{.Genre}} book{{else}}copy of <strong>{{.BookTitle}}</strong>{{end}} is on its way.</p>
<p><strong>Order ID:</strong> {{.OrderID}}<br><strong>Amount:</strong> {{.Amount}} {{.Currency}}</p>
<p>Happy reading!</p>
`))
)

// SendGridMailer sends order confirmation emails through SendGrid.
type SendGridMailer struct {
	client   sendClient
	from     *mail.Email
	logger   func(ctx context.Context, event string, fields map[string]any)
	subjects func(services.OrderConfirmedEvent) string
}

// MailerOption customises the SendGridMailer.
type MailerOption func(*SendGridMailer)

// WithLogger sets the event logger.
func WithLogger(logger func(ctx context.Context, event string, fields map[string]any)) MailerOption {
	return func(m *SendGridMailer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func withClient(client sendClient) MailerOption {
	return func(m *SendGridMailer) { m.client = client }
}

// NewSendGridMailer builds a mailer for the configured sender.
func NewSendGridMailer(apiKey, fromEmail, fromName string, opts ...MailerOption) (*SendGridMailer, error) {
	apiKey = strings.TrimSpace(apiKey)
	fromEmail = strings.TrimSpace(fromEmail)
	if fromEmail == "" {
		return nil, ErrMissingSender
	}
	if strings.TrimSpace(fromName) == "" {
		fromName = defaultFromName
	}
	m := &SendGridMailer{
		from:     mail.NewEmail(fromName, fromEmail),
		logger:   func(context.Context, string, map[string]any) {},
		subjects: defaultSubject,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.client == nil {
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		m.client = sendgrid.NewSendClient(apiKey)
	}
	return m, nil
}

// SendOrderConfirmation emails the customer a summary of their order.
func (m *SendGridMailer) SendOrderConfirmation(ctx context.Context, event services.OrderConfirmedEvent) error {
	to := strings.TrimSpace(event.CustomerEmail)
	if to == "" {
		return errors.New("notifications: recipient address is empty")
	}

	var text, html bytes.Buffer
	if err := textBody.Execute(&text, event); err != nil {
		return fmt.Errorf("notifications: render text body: %w", err)
	}
	if err := htmlBody.Execute(&html, event); err != nil {
		return fmt.Errorf("notifications: render html body: %w", err)
	}

	message := mail.NewSingleEmail(m.from, m.subjects(event), mail.NewEmail(event.CustomerName, to), text.String(), html.String())
	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notifications: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("notifications: sendgrid status %d: %s", resp.StatusCode, resp.Body)
	}

	m.logger(ctx, "notifications.order_confirmation.sent", map[string]any{
		"orderId": event.OrderID,
		"status":  resp.StatusCode,
	})
	return nil
}

func defaultSubject(event services.OrderConfirmedEvent) string {
	return fmt.Sprintf("Your Mystery Books order %s", event.OrderID)
}
