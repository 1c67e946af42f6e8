// Package sequencer drives a visitor through the storefront screens: genre pick, timed
// reveal, purchase and confirmation. A Sequencer is owned by one session and is not
// safe for concurrent use; callers serialise access per session.
package sequencer

import (
	"errors"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mysterybooks/storefront/internal/domain"
)

// Screen identifies the view currently presented to the visitor.
type Screen string

const (
	ScreenGenreSelection Screen = "genre-selection"
	ScreenReveal         Screen = "reveal"
	ScreenPurchase       Screen = "purchase"
	ScreenSuccess        Screen = "success"
)

// Variant selects how the purchase screen completes an order.
type Variant string

const (
	// VariantHosted hands payment to an external checkout page.
	VariantHosted Variant = "hosted"
	// VariantLocal completes the order in-process with a generated reference.
	VariantLocal Variant = "local"
)

const (
	defaultRevealDelay = 400 * time.Millisecond
	defaultCurrency    = "GBP"
	mysteryLabel       = "Mystery Book"
)

// PaymentErrorMessage is shown inline on the purchase screen when the gateway fails.
const PaymentErrorMessage = "There was an error processing your payment. Please try again."

var (
	ErrUnknownGenre         = errors.New("sequencer: unknown genre")
	ErrTransitionPending    = errors.New("sequencer: transition pending")
	ErrInvalidTransition    = errors.New("sequencer: action not available on current screen")
	ErrMissingCustomerField = errors.New("sequencer: missing customer field")
	ErrPaymentInFlight      = errors.New("sequencer: payment already in flight")
	ErrWrongVariant         = errors.New("sequencer: action not available for checkout variant")
)

// Transition is a timed move towards Target that completes once Duration has elapsed.
type Transition struct {
	Target   Screen
	Started  time.Time
	Duration time.Duration
}

// Due reports whether the transition may complete at now.
func (t Transition) Due(now time.Time) bool {
	return !now.Before(t.Started.Add(t.Duration))
}

// Remaining returns how long until the transition is due, never negative.
func (t Transition) Remaining(now time.Time) time.Duration {
	left := t.Started.Add(t.Duration).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// State is the per-session presentation state.
type State struct {
	Screen          Screen
	Genre           string
	Book            *domain.Book
	KeepMystery     bool
	ContentVisible  bool
	CartCount       int
	Pending         *Transition
	PaymentInFlight bool
	PaymentAttempt  uint64
	PaymentError    string
	OrderRef        string
	RedirectURL     string
	Banner          *Banner
}

// Customer is the contact data collected on the purchase screen.
type Customer struct {
	Email string
	Name  string
}

// Sequencer owns one visitor's screen state over an immutable catalog.
type Sequencer struct {
	catalog     domain.Catalog
	clock       func() time.Time
	draw        func(n int) int
	variant     Variant
	revealDelay time.Duration
	price       decimal.Decimal
	currency    string
	logger      *zap.Logger
	orderRefs   func() string

	attempts uint64
	state    State
}

// Option customises a Sequencer.
type Option func(*Sequencer)

// WithClock injects the time source used for timed transitions.
func WithClock(clock func() time.Time) Option {
	return func(s *Sequencer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithRand injects the draw used to pick a book; it must return a value in [0, n).
func WithRand(draw func(n int) int) Option {
	return func(s *Sequencer) {
		if draw != nil {
			s.draw = draw
		}
	}
}

// WithVariant selects the checkout variant.
func WithVariant(v Variant) Option {
	return func(s *Sequencer) {
		if v == VariantHosted || v == VariantLocal {
			s.variant = v
		}
	}
}

// WithRevealDelay sets the delay between picking a genre and showing the reveal screen.
func WithRevealDelay(d time.Duration) Option {
	return func(s *Sequencer) {
		if d >= 0 {
			s.revealDelay = d
		}
	}
}

// WithPrice sets the fixed price shown and charged for every book.
func WithPrice(price decimal.Decimal, currency string) Option {
	return func(s *Sequencer) {
		if price.IsPositive() {
			s.price = price
		}
		if currency != "" {
			s.currency = currency
		}
	}
}

// WithLogger sets the logger for refused actions.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sequencer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOrderRefs injects the generator for local order references.
func WithOrderRefs(next func() string) Option {
	return func(s *Sequencer) {
		if next != nil {
			s.orderRefs = next
		}
	}
}

// New builds a Sequencer on the genre selection screen. The catalog is cloned.
func New(catalog domain.Catalog, opts ...Option) *Sequencer {
	s := &Sequencer{
		catalog:     catalog.Clone(),
		clock:       time.Now,
		draw:        rand.Intn,
		variant:     VariantHosted,
		revealDelay: defaultRevealDelay,
		price:       decimal.New(5, 0),
		currency:    defaultCurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.orderRefs == nil {
		s.orderRefs = NewOrderRefGenerator(s.clock)
	}
	s.state = State{Screen: ScreenGenreSelection, KeepMystery: true}
	return s
}

// Variant returns the configured checkout variant.
func (s *Sequencer) Variant() Variant { return s.variant }

// Genres lists the genres on offer.
func (s *Sequencer) Genres() []string { return s.catalog.Genres() }

// Price returns the fixed price and currency.
func (s *Sequencer) Price() (decimal.Decimal, string) { return s.price, s.currency }

// Snapshot returns a copy of the current state after completing any due transition.
func (s *Sequencer) Snapshot() State {
	s.settle(s.clock())
	st := s.state
	if st.Book != nil {
		book := *st.Book
		st.Book = &book
	}
	if st.Pending != nil {
		p := *st.Pending
		st.Pending = &p
	}
	if st.Banner != nil {
		b := *st.Banner
		st.Banner = &b
	}
	return st
}

// Actions lists what the visitor can do right now.
func (s *Sequencer) Actions() []Action {
	s.settle(s.clock())
	return Actions(s.state, s.variant)
}
