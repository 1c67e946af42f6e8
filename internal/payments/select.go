package payments

import (
	"fmt"
	"strings"

	"github.com/mysterybooks/storefront/internal/platform/config"
)

// Key classifications reported by KeyType.
const (
	KeyTypeTest    = "test"
	KeyTypeLive    = "live"
	KeyTypeNone    = "none"
	KeyTypeInvalid = "invalid"
)

// KeyType classifies a Stripe secret key without exposing it.
func KeyType(key string) string {
	key = strings.TrimSpace(key)
	switch {
	case strings.HasPrefix(key, "sk_test_"):
		return KeyTypeTest
	case strings.HasPrefix(key, "sk_live_"):
		return KeyTypeLive
	case key == "":
		return KeyTypeNone
	default:
		return KeyTypeInvalid
	}
}

// NewGatewayFromConfig picks the gateway binding. In auto mode Stripe is used only for
// keys that look like real test or live secrets; anything else runs the mock gateway.
func NewGatewayFromConfig(cfg config.PaymentsConfig, baseURL string, logger Logger) (Gateway, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = config.PaymentsAuto
	}
	switch mode {
	case config.PaymentsMock:
		return NewMockGateway(baseURL, WithMockLogger(logger)), ProviderMock, nil
	case config.PaymentsAuto:
		if kt := KeyType(cfg.StripeSecretKey); kt != KeyTypeTest && kt != KeyTypeLive {
			return NewMockGateway(baseURL, WithMockLogger(logger)), ProviderMock, nil
		}
	case config.PaymentsStripe:
	default:
		return nil, "", fmt.Errorf("payments: unknown mode %q", cfg.Mode)
	}
	gw, err := NewStripeGateway(StripeConfig{
		APIKey:  cfg.StripeSecretKey,
		BaseURL: baseURL,
		Logger:  logger,
	})
	if err != nil {
		return nil, "", err
	}
	return gw, ProviderStripe, nil
}
