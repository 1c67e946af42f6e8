package sessions

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"go.uber.org/zap"

	"github.com/mysterybooks/storefront/internal/platform/requestctx"
)

const (
	defaultCSRFCookie = "csrf_token"
	csrfFormField     = "csrf_token"
	csrfHeader        = "X-CSRF-Token"
	maxCSRFFormSize   = 16 * 1024
)

// CSRFConfig controls the double-submit token cookie.
type CSRFConfig struct {
	CookieName string
	Secure     bool
}

// CSRF issues a form token cookie and rejects state-changing requests whose csrf_token form
// field (or X-CSRF-Token header) does not match it. The token is exposed through requestctx so
// templates can embed it.
func CSRF(cfg CSRFConfig) func(http.Handler) http.Handler {
	name := cfg.CookieName
	if name == "" {
		name = defaultCSRFCookie
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if c, err := r.Cookie(name); err == nil && validCSRFToken(c.Value) {
				token = c.Value
			}

			if !isSafeMethod(r.Method) {
				if token == "" || !tokenMatches(token, submittedToken(w, r)) {
					requestctx.Logger(r.Context()).Warn("csrf token rejected", zap.String("path", r.URL.Path))
					http.Error(w, "invalid CSRF token", http.StatusForbidden)
					return
				}
			}

			if token == "" {
				token = newCSRFToken()
				http.SetCookie(w, &http.Cookie{
					Name:     name,
					Value:    token,
					Path:     "/",
					HttpOnly: true,
					Secure:   cfg.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			next.ServeHTTP(w, r.WithContext(requestctx.WithCSRFToken(r.Context(), token)))
		})
	}
}

func submittedToken(w http.ResponseWriter, r *http.Request) string {
	if hdr := r.Header.Get(csrfHeader); hdr != "" {
		return hdr
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxCSRFFormSize)
	if err := r.ParseForm(); err != nil {
		return ""
	}
	return r.PostForm.Get(csrfFormField)
}

func tokenMatches(expected, got string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

func newCSRFToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func validCSRFToken(v string) bool {
	if len(v) != 32 {
		return false
	}
	_, err := hex.DecodeString(v)
	return err == nil
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
