package catalog

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	"github.com/mysterybooks/storefront/internal/domain"
)

// FirestoreClientProvider hands out a lazily dialled Firestore client.
type FirestoreClientProvider interface {
	Client(ctx context.Context) (*firestore.Client, error)
}

// FirestoreSource reads one document per book from a collection.
type FirestoreSource struct {
	clients       FirestoreClientProvider
	collection    string
	fallbackPrice decimal.Decimal
}

type bookRecord struct {
	Genre       string  `firestore:"genre"`
	Title       string  `firestore:"title"`
	Author      string  `firestore:"author"`
	Description string  `firestore:"description"`
	Price       float64 `firestore:"price"`
	Position    int     `firestore:"position"`
}

// NewFirestoreSource constructs a source over collection.
func NewFirestoreSource(clients FirestoreClientProvider, collection string, fallbackPrice decimal.Decimal) *FirestoreSource {
	return &FirestoreSource{clients: clients, collection: collection, fallbackPrice: fallbackPrice}
}

// Name implements Source.
func (s *FirestoreSource) Name() string { return "firestore" }

// Load implements Source.
func (s *FirestoreSource) Load(ctx context.Context) (domain.Catalog, error) {
	client, err := s.clients.Client(ctx)
	if err != nil {
		return nil, wrapSourceErr(s.Name(), err)
	}
	snaps, err := client.Collection(s.collection).Documents(ctx).GetAll()
	if err != nil {
		return nil, wrapSourceErr(s.Name(), fmt.Errorf("query %s: %w", s.collection, err))
	}

	records := make([]bookRecord, 0, len(snaps))
	for _, snap := range snaps {
		var rec bookRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, wrapSourceErr(s.Name(), fmt.Errorf("decode %s: %w", snap.Ref.ID, err))
		}
		records = append(records, rec)
	}
	return catalogFromRecords(records, s.fallbackPrice), nil
}

func catalogFromRecords(records []bookRecord, fallbackPrice decimal.Decimal) domain.Catalog {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Genre != records[j].Genre {
			return records[i].Genre < records[j].Genre
		}
		return records[i].Position < records[j].Position
	})
	out := domain.Catalog{}
	for _, rec := range records {
		genre := domain.NormaliseGenre(rec.Genre)
		out[genre] = append(out[genre], domain.Book{
			Title:       rec.Title,
			Author:      rec.Author,
			Description: rec.Description,
			Price:       positiveOr(decimal.NewFromFloat(rec.Price), fallbackPrice),
		})
	}
	return out
}
