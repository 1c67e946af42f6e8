package storefront

import (
	"html/template"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mysterybooks/storefront/internal/sequencer"
	"github.com/mysterybooks/storefront/internal/services"
)

const (
	pageScreen       = "screen"
	pageCart         = "cart"
	pageConfirmation = "confirmation"
)

var allActions = []sequencer.Action{
	sequencer.ActionSelectGenre,
	sequencer.ActionKeepMystery,
	sequencer.ActionReveal,
	sequencer.ActionBuyNow,
	sequencer.ActionCheckout,
	sequencer.ActionPlaceOrder,
	sequencer.ActionNewOrder,
}

type genreOption struct {
	Key  string
	Name string
}

type bookView struct {
	Title       string
	Author      string
	Description template.HTML
}

type customerForm struct {
	Email string
	Name  string
}

type pageData struct {
	Page           string
	Title          string
	Screen         sequencer.Screen
	Variant        sequencer.Variant
	Banner         *sequencer.Banner
	Pending        bool
	RefreshSeconds int
	RefreshMillis  int64

	Genres          []genreOption
	Genre           string
	GenreName       string
	Book            *bookView
	ContentVisible  bool
	Purchase        *sequencer.PurchaseView
	PriceLabel      string
	PaymentInFlight bool
	PaymentError    string
	FormError       string
	OrderRef        string
	CartCount       int
	Customer        customerForm
	Can             map[string]bool
	CSRFToken       string

	Confirmation *services.OrderConfirmation
}

// buildScreenPage captures everything the screen templates need. It must run while the
// caller holds the session so the banner is consumed exactly once.
func buildScreenPage(s *sequencer.Sequencer, now time.Time) pageData {
	banner := s.ConsumeBanner()
	st := s.Snapshot()
	price, currency := s.Price()

	data := pageData{
		Page:            pageScreen,
		Title:           screenTitle(st.Screen),
		Screen:          st.Screen,
		Variant:         s.Variant(),
		Banner:          banner,
		Genre:           st.Genre,
		ContentVisible:  st.ContentVisible,
		PriceLabel:      formatPrice(price, currency),
		PaymentInFlight: st.PaymentInFlight,
		PaymentError:    st.PaymentError,
		OrderRef:        st.OrderRef,
		CartCount:       st.CartCount,
		Can:             make(map[string]bool, len(allActions)),
	}
	for _, action := range allActions {
		data.Can[string(action)] = false
	}
	for _, genre := range s.Genres() {
		data.Genres = append(data.Genres, genreOption{Key: genre, Name: sequencer.GenreDisplayName(genre)})
	}
	if st.Genre != "" {
		data.GenreName = sequencer.GenreDisplayName(st.Genre)
	}
	if st.Pending != nil {
		remaining := st.Pending.Remaining(now)
		data.Pending = true
		data.Title = "Selecting your book"
		data.RefreshMillis = remaining.Milliseconds()
		data.RefreshSeconds = int(math.Max(1, math.Ceil(remaining.Seconds())))
	}
	if st.Book != nil && st.ContentVisible {
		data.Book = &bookView{
			Title:       st.Book.Title,
			Author:      st.Book.Author,
			Description: renderDescription(st.Book.Description),
		}
	}
	if view, ok := s.PurchaseView(); ok && (st.Screen == sequencer.ScreenPurchase || st.Screen == sequencer.ScreenSuccess) {
		data.Purchase = &view
	}
	for _, action := range sequencer.Actions(st, s.Variant()) {
		data.Can[string(action)] = true
	}
	return data
}

func screenTitle(screen sequencer.Screen) string {
	switch screen {
	case sequencer.ScreenReveal:
		return "Your book"
	case sequencer.ScreenPurchase:
		return "Checkout"
	case sequencer.ScreenSuccess:
		return "Order placed"
	default:
		return "Choose a genre"
	}
}

var currencySymbols = map[string]string{
	"GBP": "£",
	"USD": "$",
	"EUR": "€",
	"AUD": "A$",
	"CAD": "C$",
}

func formatPrice(amount decimal.Decimal, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if symbol, ok := currencySymbols[currency]; ok {
		return symbol + amount.StringFixed(2)
	}
	return amount.StringFixed(2) + " " + currency
}
