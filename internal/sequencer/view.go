package sequencer

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PurchaseView is what the purchase screen shows for the selected book.
type PurchaseView struct {
	Title     string
	Subtitle  string
	Genre     string
	GenreName string
	Mystery   bool
	Price     decimal.Decimal
	Currency  string
}

// GenreDisplayName title-cases a genre key for display.
func GenreDisplayName(genre string) string {
	return cases.Title(language.English).String(genre)
}

// PurchaseView describes the line item. Mystery purchases hide title and author.
func (s *Sequencer) PurchaseView() (PurchaseView, bool) {
	st := s.state
	if st.Book == nil || st.Genre == "" {
		return PurchaseView{}, false
	}
	view := PurchaseView{
		Genre:     st.Genre,
		GenreName: GenreDisplayName(st.Genre),
		Mystery:   st.KeepMystery,
		Price:     s.price,
		Currency:  s.currency,
	}
	if st.KeepMystery {
		view.Title = mysteryLabel
		view.Subtitle = "Genre: " + view.GenreName
	} else {
		view.Title = st.Book.Title
		view.Subtitle = "by " + st.Book.Author
	}
	return view, true
}
