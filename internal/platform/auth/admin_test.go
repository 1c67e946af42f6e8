package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/mysterybooks/storefront/internal/platform/requestctx"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewAdminTokensRejectsShortSecret(t *testing.T) {
	if _, err := NewAdminTokens("short", "issuer", time.Hour); !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}
}

func TestIssueAndVerify(t *testing.T) {
	tokens, err := NewAdminTokens(testSecret, "mysterybooks-storefront", time.Hour)
	if err != nil {
		t.Fatalf("NewAdminTokens: %v", err)
	}
	signed, expires, err := tokens.Issue("ops@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expires.After(time.Now()) {
		t.Fatalf("expected future expiry, got %s", expires)
	}

	claims, err := tokens.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "ops@example.com" || claims.Role != RoleAdmin {
		t.Fatalf("unexpected claims %#v", claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	tokens, _ := NewAdminTokens(testSecret, "iss", time.Hour, WithClock(func() time.Time { return past }))
	signed, _, err := tokens.Issue("ops")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := tokens.Verify(signed); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	tokens, _ := NewAdminTokens(testSecret, "iss", time.Hour)
	other, _ := NewAdminTokens("fedcba9876543210fedcba9876543210", "iss", time.Hour)
	signed, _, _ := other.Issue("ops")
	if _, err := tokens.Verify(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong secret, got %v", err)
	}

	wrongIssuer, _ := NewAdminTokens(testSecret, "someone-else", time.Hour)
	signed, _, _ = wrongIssuer.Issue("ops")
	if _, err := tokens.Verify(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for issuer mismatch, got %v", err)
	}

	noRole := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			Issuer:    "iss",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := noRole.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := tokens.Verify(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid without role, got %v", err)
	}
}

func TestRequireAdmin(t *testing.T) {
	tokens, _ := NewAdminTokens(testSecret, "iss", time.Hour)
	signed, _, _ := tokens.Issue("ops")

	var subject string
	handler := tokens.RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = requestctx.Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-token", http.StatusUnauthorized},
		{"valid token", "Bearer " + signed, http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/books", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
	if subject != "ops" {
		t.Fatalf("expected subject on context, got %q", subject)
	}
}
