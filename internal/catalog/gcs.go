package catalog

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/shopspring/decimal"

	"github.com/mysterybooks/storefront/internal/domain"
)

// ObjectOpener opens a Cloud Storage object for reading.
type ObjectOpener func(ctx context.Context, bucket, object string) (io.ReadCloser, error)

// StorageOpener adapts a storage.Client to ObjectOpener.
func StorageOpener(client *storage.Client) ObjectOpener {
	return func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
		return client.Bucket(bucket).Object(object).NewReader(ctx)
	}
}

// GCSSource reads a CSV, YAML or JSON catalog object from Cloud Storage.
type GCSSource struct {
	open          ObjectOpener
	bucket        string
	object        string
	format        Format
	fallbackPrice decimal.Decimal
}

// NewGCSSource infers the object format from its name.
func NewGCSSource(open ObjectOpener, bucket, object string, fallbackPrice decimal.Decimal) (*GCSSource, error) {
	if open == nil {
		return nil, fmt.Errorf("catalog: gcs source requires an object opener")
	}
	format, err := FormatFromPath(object)
	if err != nil {
		return nil, err
	}
	return &GCSSource{open: open, bucket: bucket, object: object, format: format, fallbackPrice: fallbackPrice}, nil
}

// Name implements Source.
func (s *GCSSource) Name() string { return "gcs" }

// Load implements Source.
func (s *GCSSource) Load(ctx context.Context) (domain.Catalog, error) {
	reader, err := s.open(ctx, s.bucket, s.object)
	if err != nil {
		return nil, wrapSourceErr(s.Name(), fmt.Errorf("open gs://%s/%s: %w", s.bucket, s.object, err))
	}
	defer reader.Close()

	c, err := Decode(reader, s.format, s.fallbackPrice)
	if err != nil {
		return nil, wrapSourceErr(s.Name(), err)
	}
	return c, nil
}
