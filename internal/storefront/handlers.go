// Package storefront serves the server-rendered shopping screens. Every POST resolves the
// visitor's sequencer from the session store, applies one transition and redirects back to the
// screen.
package storefront

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mysterybooks/storefront/internal/payments"
	"github.com/mysterybooks/storefront/internal/platform/requestctx"
	"github.com/mysterybooks/storefront/internal/sequencer"
	"github.com/mysterybooks/storefront/internal/services"
)

const (
	maxFormSize           = 16 * 1024
	missingCustomerFields = "Please enter your email address and name."
)

// Sessions hands out the sequencer of one visitor under that visitor's lock.
type Sessions interface {
	With(id string, fn func(*sequencer.Sequencer) error) error
}

// Handlers renders the storefront screens.
type Handlers struct {
	sessions Sessions
	checkout services.CheckoutService
	clock    func() time.Time
}

// Option customises Handlers.
type Option func(*Handlers)

// WithClock overrides the clock used to compute refresh delays.
func WithClock(clock func() time.Time) Option {
	return func(h *Handlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHandlers constructs the storefront handlers. checkout may be nil for the local variant.
func NewHandlers(sessions Sessions, checkout services.CheckoutService, opts ...Option) *Handlers {
	h := &Handlers{
		sessions: sessions,
		checkout: checkout,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the storefront screens.
func (h *Handlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.home)
	r.Get("/cart", h.cart)
	r.Get("/success", h.success)
	r.Post("/genre/{genre}", h.selectGenre)
	r.Post("/reveal", h.reveal)
	r.Post("/purchase", h.purchase)
	r.Post("/checkout", h.beginCheckout)
	r.Post("/order", h.placeOrder)
	r.Post("/new-order", h.newOrder)
}

func (h *Handlers) home(w http.ResponseWriter, r *http.Request) {
	var data pageData
	err := h.withSession(r, func(s *sequencer.Sequencer) error {
		if s.ApplyReturnFlags(r.URL.Query()) {
			requestctx.Logger(r.Context()).Info("checkout return applied", zap.String("query", r.URL.RawQuery))
		}
		data = buildScreenPage(s, h.clock())
		return nil
	})
	if err != nil {
		h.sessionFailure(w, r, err)
		return
	}
	render(w, r, http.StatusOK, data)
}

func (h *Handlers) cart(w http.ResponseWriter, r *http.Request) {
	var data pageData
	err := h.withSession(r, func(s *sequencer.Sequencer) error {
		st := s.Snapshot()
		data = pageData{
			Page:      pageCart,
			Title:     "Cart",
			Screen:    st.Screen,
			Variant:   s.Variant(),
			CartCount: st.CartCount,
		}
		return nil
	})
	if err != nil {
		h.sessionFailure(w, r, err)
		return
	}
	render(w, r, http.StatusOK, data)
}

func (h *Handlers) selectGenre(w http.ResponseWriter, r *http.Request) {
	genre := chi.URLParam(r, "genre")
	h.apply(w, r, "select genre", func(s *sequencer.Sequencer) error {
		return s.SelectGenre(genre)
	})
}

func (h *Handlers) reveal(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "reveal", func(s *sequencer.Sequencer) error {
		return s.RevealContent()
	})
}

func (h *Handlers) purchase(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	keepMystery := formBool(r.PostForm.Get("keep_mystery"))
	h.apply(w, r, "proceed to purchase", func(s *sequencer.Sequencer) error {
		return s.ProceedToPurchase(keepMystery)
	})
}

func (h *Handlers) newOrder(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "new order", func(s *sequencer.Sequencer) error {
		s.StartNewOrder()
		return nil
	})
}

func (h *Handlers) beginCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := parseForm(w, r); err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	customer := customerFromForm(r)

	var attempt sequencer.PaymentAttempt
	err := h.withSession(r, func(s *sequencer.Sequencer) error {
		var err error
		attempt, err = s.BeginPayment(customer)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, sequencer.ErrMissingCustomerField):
		h.renderFormError(w, r, customer)
		return
	default:
		h.refused(w, r, "begin checkout", err)
		return
	}

	session, payErr := h.createSession(ctx, attempt.Request)
	var (
		applied  bool
		redirect string
	)
	err = h.withSession(r, func(s *sequencer.Sequencer) error {
		applied = s.CompletePayment(attempt.ID, session, payErr)
		redirect = s.Snapshot().RedirectURL
		return nil
	})
	if err != nil {
		h.sessionFailure(w, r, err)
		return
	}
	if !applied {
		requestctx.Logger(ctx).Info("checkout superseded by a newer order", zap.Uint64("attempt", attempt.ID))
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if payErr != nil || redirect == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

func (h *Handlers) createSession(ctx context.Context, req payments.CheckoutRequest) (payments.Session, error) {
	if h.checkout == nil {
		return payments.Session{}, services.ErrCheckoutUnavailable
	}
	return h.checkout.CreateSession(ctx, services.CreateSessionCommand{
		BookTitle:     req.BookTitle,
		Genre:         req.Genre,
		Mystery:       req.Mystery,
		Label:         req.Label,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
	})
}

func (h *Handlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	customer := customerFromForm(r)
	var ref string
	err := h.withSession(r, func(s *sequencer.Sequencer) error {
		var err error
		ref, err = s.ProcessPurchase(customer)
		return err
	})
	switch {
	case err == nil:
		requestctx.Logger(r.Context()).Info("local order placed", zap.String("order_ref", ref))
		http.Redirect(w, r, "/", http.StatusSeeOther)
	case errors.Is(err, sequencer.ErrMissingCustomerField):
		h.renderFormError(w, r, customer)
	default:
		h.refused(w, r, "place order", err)
	}
}

func (h *Handlers) success(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		http.Redirect(w, r, "/?error=no_session", http.StatusSeeOther)
		return
	}
	if h.checkout == nil {
		http.Redirect(w, r, "/?error=session_error", http.StatusSeeOther)
		return
	}
	confirmation, err := h.checkout.ConfirmOrder(ctx, sessionID)
	if err != nil {
		requestctx.Logger(ctx).Warn("order confirmation failed", zap.Error(err))
		http.Redirect(w, r, "/?error=session_error", http.StatusSeeOther)
		return
	}

	data := pageData{
		Page:         pageConfirmation,
		Title:        "Order confirmed",
		Confirmation: &confirmation,
	}
	if err := h.withSession(r, func(s *sequencer.Sequencer) error {
		st := s.Snapshot()
		data.Screen = st.Screen
		data.Variant = s.Variant()
		data.CartCount = st.CartCount
		return nil
	}); err != nil {
		requestctx.Logger(ctx).Warn("confirmation rendered without session", zap.Error(err))
	}
	render(w, r, http.StatusOK, data)
}

// apply runs one transition and redirects to the screen. Refused transitions are logged and the
// visitor simply sees the unchanged screen.
func (h *Handlers) apply(w http.ResponseWriter, r *http.Request, action string, fn func(*sequencer.Sequencer) error) {
	if err := h.withSession(r, fn); err != nil {
		h.refused(w, r, action, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handlers) withSession(r *http.Request, fn func(*sequencer.Sequencer) error) error {
	if h.sessions == nil {
		return errSessionsUnavailable
	}
	return h.sessions.With(requestctx.SessionID(r.Context()), fn)
}

var errSessionsUnavailable = errors.New("storefront: session store not configured")

func (h *Handlers) refused(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case errors.Is(err, sequencer.ErrUnknownGenre),
		errors.Is(err, sequencer.ErrTransitionPending),
		errors.Is(err, sequencer.ErrInvalidTransition),
		errors.Is(err, sequencer.ErrPaymentInFlight),
		errors.Is(err, sequencer.ErrWrongVariant):
		requestctx.Logger(r.Context()).Info("action refused", zap.String("action", action), zap.Error(err))
		http.Redirect(w, r, "/", http.StatusSeeOther)
	default:
		h.sessionFailure(w, r, err)
	}
}

func (h *Handlers) sessionFailure(w http.ResponseWriter, r *http.Request, err error) {
	requestctx.Logger(r.Context()).Error("session unavailable", zap.Error(err))
	http.Error(w, "session unavailable", http.StatusInternalServerError)
}

func (h *Handlers) renderFormError(w http.ResponseWriter, r *http.Request, customer sequencer.Customer) {
	var data pageData
	if err := h.withSession(r, func(s *sequencer.Sequencer) error {
		data = buildScreenPage(s, h.clock())
		return nil
	}); err != nil {
		h.sessionFailure(w, r, err)
		return
	}
	data.FormError = missingCustomerFields
	data.Customer = customerForm{Email: customer.Email, Name: customer.Name}
	render(w, r, http.StatusUnprocessableEntity, data)
}

func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	return r.ParseForm()
}

func customerFromForm(r *http.Request) sequencer.Customer {
	return sequencer.Customer{
		Email: strings.TrimSpace(r.PostForm.Get("email")),
		Name:  strings.TrimSpace(r.PostForm.Get("name")),
	}
}

func formBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "on", "1", "yes":
		return true
	default:
		return false
	}
}
