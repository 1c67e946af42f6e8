package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/mysterybooks/storefront/internal/platform/httpx"
	"github.com/mysterybooks/storefront/internal/platform/requestctx"
)

// RoleAdmin is the only role accepted by the catalog maintenance endpoints.
const RoleAdmin = "admin"

const minSecretLength = 32

var (
	// ErrSecretTooShort is returned when the HMAC secret is shorter than 32 bytes.
	ErrSecretTooShort = errors.New("auth: admin token secret must be at least 32 bytes")
	// ErrTokenInvalid is returned for tokens that fail signature, issuer or role checks.
	ErrTokenInvalid = errors.New("auth: admin token invalid")
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("auth: admin token expired")
)

// Logger captures the minimal logging contract used by the auth package.
type Logger interface {
	Printf(format string, args ...any)
}

// AdminClaims is the payload of an admin bearer token.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminTokens issues and verifies HS256 admin bearer tokens.
type AdminTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	logger Logger
}

// AdminOption customises AdminTokens.
type AdminOption func(*AdminTokens)

// WithClock overrides the time source used when issuing tokens.
func WithClock(now func() time.Time) AdminOption {
	return func(a *AdminTokens) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the logger used for rejected tokens.
func WithLogger(logger Logger) AdminOption {
	return func(a *AdminTokens) { a.logger = logger }
}

// NewAdminTokens constructs the token helper.
func NewAdminTokens(secret, issuer string, ttl time.Duration, opts ...AdminOption) (*AdminTokens, error) {
	if len(secret) < minSecretLength {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	a := &AdminTokens{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Issue mints a signed admin token for subject.
func (a *AdminTokens) Issue(subject string) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("auth: subject is required")
	}
	now := a.now().UTC()
	expires := now.Add(a.ttl)
	claims := AdminClaims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign admin token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses tokenStr and returns its claims when it is a valid admin token.
func (a *AdminTokens) Verify(tokenStr string) (*AdminClaims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &AdminClaims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		var validation *jwt.ValidationError
		if errors.As(err, &validation) && validation.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if claims.Role != RoleAdmin || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing admin role", ErrTokenInvalid)
	}
	return claims, nil
}

// RequireAdmin rejects requests without a valid admin bearer token and records the subject on the context.
func (a *AdminTokens) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
				return
			}
			claims, err := a.Verify(tokenStr)
			if err != nil {
				if a.logger != nil {
					a.logger.Printf("auth: admin token rejected: %v", err)
				}
				code := "invalid_token"
				if errors.Is(err, ErrTokenExpired) {
					code = "token_expired"
				}
				httpx.WriteError(r.Context(), w, httpx.NewError(code, "admin token verification failed", http.StatusUnauthorized))
				return
			}
			ctx := requestctx.WithSubject(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
