package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mysterybooks/storefront/internal/payments"
	"github.com/mysterybooks/storefront/internal/platform/httpx"
	"github.com/mysterybooks/storefront/internal/platform/requestctx"
	"github.com/mysterybooks/storefront/internal/services"
)

const maxCheckoutBodySize = 8 * 1024

// CheckoutHandlers exposes the JSON checkout endpoint used by the browser client.
type CheckoutHandlers struct {
	checkout    services.CheckoutService
	middlewares []func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutMiddlewares wraps the session creation route, typically with idempotency protection.
func WithCheckoutMiddlewares(mw ...func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.middlewares = append(h.middlewares, mw...)
	}
}

// NewCheckoutHandlers constructs checkout handlers backed by the checkout service.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(h.middlewares...).Post("/create-checkout-session", h.createSession)
}

type createSessionRequest struct {
	BookTitle     string `json:"bookTitle"`
	CustomerEmail string `json:"customerEmail"`
	CustomerName  string `json:"customerName"`
	Genre         string `json:"genre"`
	Mystery       bool   `json:"mystery"`
}

type createSessionResponse struct {
	Success     bool   `json:"success,omitempty"`
	SessionID   string `json:"sessionId"`
	URL         string `json:"url,omitempty"`
	CheckoutURL string `json:"checkoutUrl,omitempty"`
	Message     string `json:"message,omitempty"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service is not configured", http.StatusServiceUnavailable))
		return
	}

	var req createSessionRequest
	if status, err := decodeJSONBody(w, r, maxCheckoutBodySize, &req); err != nil {
		writeLegacyError(ctx, w, "invalid_request", err.Error(), status)
		return
	}

	session, err := h.checkout.CreateSession(ctx, services.CreateSessionCommand{
		BookTitle:      req.BookTitle,
		Genre:          req.Genre,
		Mystery:        req.Mystery,
		CustomerEmail:  req.CustomerEmail,
		CustomerName:   req.CustomerName,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	requestctx.Logger(ctx).Info("checkout session created")
	if session.Provider == payments.ProviderMock {
		writeJSONResponse(w, http.StatusOK, createSessionResponse{
			Success:     true,
			SessionID:   session.ID,
			CheckoutURL: session.URL,
			Message:     "Mock checkout session created",
		})
		return
	}
	writeJSONResponse(w, http.StatusOK, createSessionResponse{
		SessionID: session.ID,
		URL:       session.URL,
	})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		writeLegacyError(ctx, w, "invalid_request", "Customer email and name are required", http.StatusBadRequest)
	case errors.Is(err, services.ErrCheckoutUnavailable):
		writeLegacyError(ctx, w, "checkout_unavailable", "checkout is currently unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		writeLegacyError(ctx, w, "payment_failed", "Failed to create checkout session", http.StatusBadGateway)
	default:
		writeLegacyError(ctx, w, "internal_error", "unexpected checkout error", http.StatusInternalServerError)
	}
}

// writeLegacyError writes the standard envelope with "error" holding the display message and
// "code" holding the machine code.
func writeLegacyError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status).WithDetails(map[string]any{
		"error": message,
		"code":  code,
	}))
}
