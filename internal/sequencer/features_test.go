package sequencer_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"github.com/mysterybooks/storefront/internal/catalog"
	"github.com/mysterybooks/storefront/internal/domain"
	"github.com/mysterybooks/storefront/internal/payments"
	"github.com/mysterybooks/storefront/internal/sequencer"
)

type flowContext struct {
	now     time.Time
	primary catalog.Source
	loaded  domain.Catalog
	cat     domain.Catalog
	price   decimal.Decimal
	variant sequencer.Variant
	seq     *sequencer.Sequencer
	draws   map[string]int
	refs    []string
	lastErr error
	trials  int
}

func (f *flowContext) reset() {
	*f = flowContext{
		now:     time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		cat:     catalog.Default(),
		price:   decimal.RequireFromString("5.00"),
		variant: sequencer.VariantHosted,
		draws:   map[string]int{},
	}
}

func (f *flowContext) clock() time.Time { return f.now }

func (f *flowContext) session() *sequencer.Sequencer {
	if f.seq == nil {
		f.seq = sequencer.New(f.cat,
			sequencer.WithClock(f.clock),
			sequencer.WithVariant(f.variant),
			sequencer.WithPrice(f.price, "GBP"),
		)
	}
	return f.seq
}

func (f *flowContext) primaryReturnsEmpty() error {
	f.primary = catalog.SourceFunc{Label: "remote", Fn: func(context.Context) (domain.Catalog, error) {
		return domain.Catalog{}, nil
	}}
	return nil
}

func (f *flowContext) catalogIsLoaded() error {
	f.loaded = catalog.NewProvider(f.primary).Load(context.Background())
	return nil
}

func (f *flowContext) catalogHasGenres(n int) error {
	if got := len(f.loaded.Genres()); got != n {
		return fmt.Errorf("expected %d genres, got %d", n, got)
	}
	return nil
}

func (f *flowContext) everyGenreHasAtLeast(n int) error {
	for _, g := range f.loaded.Genres() {
		if len(f.loaded.Books(g)) < n {
			return fmt.Errorf("genre %s has %d books", g, len(f.loaded.Books(g)))
		}
	}
	return nil
}

func (f *flowContext) catalogContainsGenres(list string) error {
	for _, g := range strings.Split(list, ",") {
		if len(f.loaded.Books(g)) == 0 {
			return fmt.Errorf("missing genre %s", g)
		}
	}
	return nil
}

func (f *flowContext) genreHasBooks(genre string, n int) error {
	books := make([]domain.Book, n)
	for i := range books {
		books[i] = domain.Book{Title: fmt.Sprintf("Book %d", i+1), Author: "Anon", Price: f.price}
	}
	f.cat = domain.Catalog{genre: books}
	return nil
}

func (f *flowContext) selectedRepeatedly(genre string, times int) error {
	f.trials = times
	for i := 0; i < times; i++ {
		s := sequencer.New(f.cat, sequencer.WithRevealDelay(0))
		if err := s.SelectGenre(genre); err != nil {
			return err
		}
		st := s.Snapshot()
		if !f.cat.Contains(genre, *st.Book) {
			return fmt.Errorf("drew %q outside %s", st.Book.Title, genre)
		}
		f.draws[st.Book.Title]++
	}
	return nil
}

func (f *flowContext) drawnWithin(low, high int) error {
	if len(f.draws) != 2 {
		return fmt.Errorf("expected both books drawn, got %v", f.draws)
	}
	for title, n := range f.draws {
		pct := n * 100 / f.trials
		if pct < low || pct > high {
			return fmt.Errorf("%s drawn %d%% of the time", title, pct)
		}
	}
	return nil
}

func (f *flowContext) embeddedCatalogWithPrice(amount string) error {
	f.cat = catalog.Default()
	f.price = decimal.RequireFromString(amount)
	return nil
}

func (f *flowContext) localVariant() error {
	f.variant = sequencer.VariantLocal
	return nil
}

func (f *flowContext) visitorSelects(genre string) error {
	f.lastErr = f.session().SelectGenre(genre)
	if f.lastErr != nil && !errors.Is(f.lastErr, sequencer.ErrUnknownGenre) {
		return f.lastErr
	}
	return nil
}

func (f *flowContext) revealDelayElapsed() error {
	f.now = f.now.Add(time.Second)
	if !f.session().Advance(f.now) {
		return errors.New("no transition completed")
	}
	return nil
}

func (f *flowContext) proceedKeepingMystery() error {
	return f.session().ProceedToPurchase(true)
}

func (f *flowContext) purchaseShows(title string) error {
	view, ok := f.session().PurchaseView()
	if !ok || view.Title != title {
		return fmt.Errorf("expected %q, got %#v", title, view)
	}
	return nil
}

func (f *flowContext) purchaseGenreIs(name string) error {
	view, _ := f.session().PurchaseView()
	if view.GenreName != name {
		return fmt.Errorf("expected genre %q, got %q", name, view.GenreName)
	}
	return nil
}

func (f *flowContext) purchasePriceIs(amount string) error {
	view, _ := f.session().PurchaseView()
	if view.Price.StringFixed(2) != amount {
		return fmt.Errorf("expected price %s, got %s", amount, view.Price.StringFixed(2))
	}
	return nil
}

func (f *flowContext) gatewayRejects() error {
	attempt, err := f.session().BeginPayment(sequencer.Customer{Email: "ada@example.com", Name: "Ada"})
	if err != nil {
		return err
	}
	gw := rejectingGateway{err: errors.New("processor unavailable")}
	session, err := gw.CreateSession(context.Background(), attempt.Request)
	f.session().CompletePayment(attempt.ID, session, err)
	return nil
}

func (f *flowContext) screenIs(screen string) error {
	if got := f.session().Snapshot().Screen; string(got) != screen {
		return fmt.Errorf("expected screen %s, got %s", screen, got)
	}
	return nil
}

func (f *flowContext) inlineErrorShown() error {
	if f.session().Snapshot().PaymentError == "" {
		return errors.New("expected an inline payment error")
	}
	return nil
}

func (f *flowContext) checkoutAvailable() error {
	if !sequencer.Has(f.session().Actions(), sequencer.ActionCheckout) {
		return errors.New("checkout is not available")
	}
	return nil
}

func (f *flowContext) cartCountIs(n int) error {
	if got := f.session().Snapshot().CartCount; got != n {
		return fmt.Errorf("expected cart count %d, got %d", n, got)
	}
	return nil
}

func (f *flowContext) completesPurchaseOf(genre string) error {
	s := f.session()
	if err := s.SelectGenre(genre); err != nil {
		return err
	}
	f.now = f.now.Add(time.Second)
	s.Advance(f.now)
	if err := s.ProceedToPurchase(false); err != nil {
		return err
	}
	ref, err := s.ProcessPurchase(sequencer.Customer{Email: "ada@example.com", Name: "Ada"})
	if err != nil {
		return err
	}
	f.refs = append(f.refs, ref)
	return nil
}

func (f *flowContext) newOrderThenPurchase(genre string) error {
	f.session().StartNewOrder()
	return f.completesPurchaseOf(genre)
}

func (f *flowContext) refsValidAndDistinct() error {
	if len(f.refs) != 2 {
		return fmt.Errorf("expected two refs, got %v", f.refs)
	}
	for _, ref := range f.refs {
		if _, err := sequencer.ParseOrderRef(ref); err != nil {
			return err
		}
	}
	if f.refs[0] == f.refs[1] {
		return errors.New("order references are not distinct")
	}
	return nil
}

func (f *flowContext) noBookSelected() error {
	st := f.session().Snapshot()
	if st.Book != nil || st.Genre != "" {
		return fmt.Errorf("unexpected selection %q", st.Genre)
	}
	if !errors.Is(f.lastErr, sequencer.ErrUnknownGenre) {
		return fmt.Errorf("expected ErrUnknownGenre, got %v", f.lastErr)
	}
	return nil
}

type rejectingGateway struct{ err error }

func (g rejectingGateway) CreateSession(context.Context, payments.CheckoutRequest) (payments.Session, error) {
	return payments.Session{}, g.err
}

func (g rejectingGateway) RetrieveSession(context.Context, string) (payments.SessionDetails, error) {
	return payments.SessionDetails{}, g.err
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	fc := &flowContext{}

	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		fc.reset()
		return ctx, nil
	})

	ctx.Step(`^the primary catalog source returns an empty catalog$`, fc.primaryReturnsEmpty)
	ctx.Step(`^the catalog is loaded$`, fc.catalogIsLoaded)
	ctx.Step(`^the catalog has (\d+) genres$`, fc.catalogHasGenres)
	ctx.Step(`^every genre has at least (\d+) books$`, fc.everyGenreHasAtLeast)
	ctx.Step(`^the catalog contains the genres "([^"]*)"$`, fc.catalogContainsGenres)

	ctx.Step(`^a catalog where "([^"]*)" has (\d+) books$`, fc.genreHasBooks)
	ctx.Step(`^"([^"]*)" is selected (\d+) times from a fresh session$`, fc.selectedRepeatedly)
	ctx.Step(`^each book is drawn between (\d+)% and (\d+)% of the time$`, fc.drawnWithin)

	ctx.Step(`^the embedded catalog and a fixed price of "([^"]*)" GBP$`, fc.embeddedCatalogWithPrice)
	ctx.Step(`^the local checkout variant$`, fc.localVariant)
	ctx.Step(`^the visitor selects "([^"]*)"$`, fc.visitorSelects)
	ctx.Step(`^the reveal delay has elapsed$`, fc.revealDelayElapsed)
	ctx.Step(`^the visitor proceeds to purchase keeping the mystery$`, fc.proceedKeepingMystery)
	ctx.Step(`^the purchase screen shows "([^"]*)"$`, fc.purchaseShows)
	ctx.Step(`^the purchase genre is "([^"]*)"$`, fc.purchaseGenreIs)
	ctx.Step(`^the purchase price is "([^"]*)"$`, fc.purchasePriceIs)

	ctx.Step(`^the checkout gateway rejects the session$`, fc.gatewayRejects)
	ctx.Step(`^the screen is "([^"]*)"$`, fc.screenIs)
	ctx.Step(`^an inline payment error is shown$`, fc.inlineErrorShown)
	ctx.Step(`^checkout can be submitted again$`, fc.checkoutAvailable)
	ctx.Step(`^the cart count is (\d+)$`, fc.cartCountIs)

	ctx.Step(`^the visitor completes a purchase of "([^"]*)"$`, fc.completesPurchaseOf)
	ctx.Step(`^the visitor starts a new order and completes a purchase of "([^"]*)"$`, fc.newOrderThenPurchase)
	ctx.Step(`^both order references are valid and distinct$`, fc.refsValidAndDistinct)
	ctx.Step(`^no book is selected$`, fc.noBookSelected)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
