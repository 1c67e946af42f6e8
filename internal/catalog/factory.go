package catalog

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/mysterybooks/storefront/internal/platform/config"
)

// Closer releases resources held by a source (database pools, cloud clients).
type Closer func() error

func noopCloser() error { return nil }

// NewSourceFromConfig builds the primary catalog source selected by configuration. firestoreClients
// is only consulted for the firestore source and may be nil otherwise.
func NewSourceFromConfig(ctx context.Context, cfg config.Config, firestoreClients FirestoreClientProvider) (Source, Closer, error) {
	price := cfg.Checkout.Price
	cat := cfg.Catalog

	switch cat.Source {
	case config.SourceEmbedded, "":
		return EmbeddedSource{}, noopCloser, nil
	case config.SourceCSV:
		src, err := NewFileSource(cat.Path, FormatCSV, price)
		return src, noopCloser, err
	case config.SourceYAML:
		format, err := FormatFromPath(cat.Path)
		if err != nil || format == FormatCSV {
			format = FormatYAML
		}
		src, err := NewFileSource(cat.Path, format, price)
		return src, noopCloser, err
	case config.SourceRemote:
		return NewRemoteSource(cat.URL, price), noopCloser, nil
	case config.SourceFirestore:
		if firestoreClients == nil {
			return nil, nil, fmt.Errorf("catalog: firestore source requires a client provider")
		}
		return NewFirestoreSource(firestoreClients, cat.Collection, price), noopCloser, nil
	case config.SourceGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("catalog: storage client: %w", err)
		}
		src, err := NewGCSSource(StorageOpener(client), cat.Bucket, cat.Object, price)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return src, client.Close, nil
	case config.SourcePostgres:
		db, err := OpenPostgres(cat.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		src, err := NewPostgresSource(db, cat.Table, price)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return src, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("catalog: unknown source %q", cat.Source)
	}
}
