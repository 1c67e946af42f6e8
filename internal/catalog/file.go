package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/mysterybooks/storefront/internal/domain"
)

// FileSource reads a CSV, YAML or JSON catalog from the local filesystem.
type FileSource struct {
	Path          string
	Format        Format
	FallbackPrice decimal.Decimal
}

// NewFileSource infers the format from path unless format is set.
func NewFileSource(path string, format Format, fallbackPrice decimal.Decimal) (*FileSource, error) {
	if format == "" {
		inferred, err := FormatFromPath(path)
		if err != nil {
			return nil, err
		}
		format = inferred
	}
	return &FileSource{Path: path, Format: format, FallbackPrice: fallbackPrice}, nil
}

// Name implements Source.
func (s *FileSource) Name() string { return string(s.Format) }

// Load implements Source.
func (s *FileSource) Load(ctx context.Context) (domain.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, wrapSourceErr(s.Name(), err)
	}
	defer file.Close()

	c, err := Decode(file, s.Format, s.FallbackPrice)
	if err != nil {
		return nil, wrapSourceErr(s.Name(), fmt.Errorf("%s: %w", s.Path, err))
	}
	return c, nil
}
