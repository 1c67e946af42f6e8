package sessions

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mysterybooks/storefront/internal/platform/observability"
	"github.com/mysterybooks/storefront/internal/platform/requestctx"
)

const defaultCookieName = "storefront_session"

// CookieConfig controls the visitor cookie.
type CookieConfig struct {
	Name   string
	MaxAge time.Duration
	Secure bool
}

// Middleware assigns every visitor a session id cookie and exposes it through requestctx.
// Unknown or malformed cookies are replaced with a fresh id.
func Middleware(cfg CookieConfig) func(http.Handler) http.Handler {
	name := cfg.Name
	if name == "" {
		name = defaultCookieName
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(name); err == nil && ValidID(c.Value) {
				id = c.Value
			}
			if id == "" {
				id = NewID()
			}
			http.SetCookie(w, &http.Cookie{
				Name:     name,
				Value:    id,
				Path:     "/",
				MaxAge:   int(maxAge / time.Second),
				HttpOnly: true,
				Secure:   cfg.Secure,
				SameSite: http.SameSiteLaxMode,
			})

			ctx := requestctx.WithSessionID(r.Context(), id)
			logger := requestctx.Logger(ctx).With(zap.String("session_id", observability.SanitizeSessionID(id)))
			ctx = requestctx.WithLogger(ctx, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
