package sequencer

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mysterybooks/storefront/internal/domain"
	"github.com/mysterybooks/storefront/internal/payments"
)

// SelectGenre picks a random book from genre and starts the timed move to the reveal screen.
func (s *Sequencer) SelectGenre(genre string) error {
	now := s.clock()
	s.settle(now)

	if s.state.Pending != nil {
		return ErrTransitionPending
	}
	if s.state.Screen != ScreenGenreSelection {
		return fmt.Errorf("%w: select genre on %s", ErrInvalidTransition, s.state.Screen)
	}

	key := domain.NormaliseGenre(genre)
	books := s.catalog.Books(key)
	if key == "" || len(books) == 0 {
		s.logger.Warn("genre not in catalog", zap.String("genre", genre))
		return fmt.Errorf("%w: %q", ErrUnknownGenre, genre)
	}

	idx := s.draw(len(books))
	if idx < 0 || idx >= len(books) {
		idx = 0
	}
	book := books[idx]

	s.state.Genre = key
	s.state.Book = &book
	s.state.KeepMystery = true
	s.state.ContentVisible = false
	s.state.PaymentError = ""
	s.state.OrderRef = ""
	s.state.RedirectURL = ""
	s.state.Pending = &Transition{Target: ScreenReveal, Started: now, Duration: s.revealDelay}
	s.settle(now)
	return nil
}

// Advance completes the pending transition when it is due at now.
func (s *Sequencer) Advance(now time.Time) bool {
	return s.settle(now)
}

func (s *Sequencer) settle(now time.Time) bool {
	p := s.state.Pending
	if p == nil || !p.Due(now) {
		return false
	}
	s.state.Screen = p.Target
	s.state.Pending = nil
	return true
}

// RevealContent uncovers the drawn book. Calling it again has no further effect.
func (s *Sequencer) RevealContent() error {
	if err := s.require(ScreenReveal); err != nil {
		return err
	}
	s.state.ContentVisible = true
	return nil
}

// ProceedToPurchase moves to the purchase screen, recording whether the title stays hidden.
func (s *Sequencer) ProceedToPurchase(keepMystery bool) error {
	if err := s.require(ScreenReveal); err != nil {
		return err
	}
	s.state.KeepMystery = keepMystery
	s.state.PaymentError = ""
	s.state.Screen = ScreenPurchase
	return nil
}

// PaymentAttempt is one hosted checkout handed to the gateway. ID ties the gateway's answer
// back to the attempt that asked for it.
type PaymentAttempt struct {
	ID      uint64
	Request payments.CheckoutRequest
}

// BeginPayment validates the customer and marks a hosted payment as in flight. The returned
// request is handed to the gateway outside any session lock.
func (s *Sequencer) BeginPayment(customer Customer) (PaymentAttempt, error) {
	if s.variant != VariantHosted {
		return PaymentAttempt{}, ErrWrongVariant
	}
	if err := s.require(ScreenPurchase); err != nil {
		return PaymentAttempt{}, err
	}
	if s.state.PaymentInFlight {
		return PaymentAttempt{}, ErrPaymentInFlight
	}
	customer, err := validateCustomer(customer)
	if err != nil {
		return PaymentAttempt{}, err
	}

	s.attempts++
	s.state.PaymentInFlight = true
	s.state.PaymentAttempt = s.attempts
	s.state.PaymentError = ""
	s.state.RedirectURL = ""

	view, _ := s.PurchaseView()
	return PaymentAttempt{
		ID: s.attempts,
		Request: payments.CheckoutRequest{
			BookTitle:     s.state.Book.Title,
			Genre:         s.state.Genre,
			Mystery:       s.state.KeepMystery,
			Label:         view.Title,
			CustomerEmail: customer.Email,
			CustomerName:  customer.Name,
			Amount:        s.price,
			Currency:      s.currency,
		},
	}, nil
}

// CompletePayment records the gateway outcome for attempt and reports whether it was applied.
// Outcomes for an attempt that is no longer in flight (the visitor started a new order, or the
// answer already arrived) are dropped.
func (s *Sequencer) CompletePayment(attempt uint64, session payments.Session, err error) bool {
	if !s.state.PaymentInFlight || attempt == 0 || attempt != s.state.PaymentAttempt {
		s.logger.Debug("stale checkout result ignored", zap.Uint64("attempt", attempt))
		return false
	}
	s.state.PaymentInFlight = false
	s.state.PaymentAttempt = 0
	if err != nil {
		s.state.PaymentError = PaymentErrorMessage
		s.logger.Warn("checkout session failed", zap.Error(err))
		return true
	}
	s.state.CartCount++
	s.state.RedirectURL = session.URL
	return true
}

// ProcessPurchase completes a local-variant order and moves to the success screen.
func (s *Sequencer) ProcessPurchase(customer Customer) (string, error) {
	if s.variant != VariantLocal {
		return "", ErrWrongVariant
	}
	if err := s.require(ScreenPurchase); err != nil {
		return "", err
	}
	if _, err := validateCustomer(customer); err != nil {
		return "", err
	}
	s.state.CartCount++
	s.state.OrderRef = s.orderRefs()
	s.state.Screen = ScreenSuccess
	return s.state.OrderRef, nil
}

// StartNewOrder returns to genre selection from any screen. The cart count and any banner survive.
func (s *Sequencer) StartNewOrder() {
	s.state = State{
		Screen:      ScreenGenreSelection,
		KeepMystery: true,
		CartCount:   s.state.CartCount,
		Banner:      s.state.Banner,
	}
}

func (s *Sequencer) require(screen Screen) error {
	s.settle(s.clock())
	if s.state.Pending != nil {
		return ErrTransitionPending
	}
	if s.state.Screen != screen {
		return fmt.Errorf("%w: expected %s, on %s", ErrInvalidTransition, screen, s.state.Screen)
	}
	return nil
}

func validateCustomer(c Customer) (Customer, error) {
	c.Email = strings.TrimSpace(c.Email)
	c.Name = strings.TrimSpace(c.Name)
	if c.Email == "" {
		return c, fmt.Errorf("%w: email", ErrMissingCustomerField)
	}
	if c.Name == "" {
		return c, fmt.Errorf("%w: name", ErrMissingCustomerField)
	}
	return c, nil
}
