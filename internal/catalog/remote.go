package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mysterybooks/storefront/internal/domain"
)

const maxRemoteBody = 4 << 20

// RemoteSource fetches the catalog JSON served by another storefront's /api/books endpoint.
type RemoteSource struct {
	URL           string
	Client        *http.Client
	FallbackPrice decimal.Decimal
}

// NewRemoteSource constructs a RemoteSource with a bounded HTTP client.
func NewRemoteSource(url string, fallbackPrice decimal.Decimal) *RemoteSource {
	return &RemoteSource{
		URL:           url,
		Client:        &http.Client{Timeout: 10 * time.Second},
		FallbackPrice: fallbackPrice,
	}
}

// Name implements Source.
func (s *RemoteSource) Name() string { return "remote" }

// Load implements Source.
func (s *RemoteSource) Load(ctx context.Context) (domain.Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, wrapSourceErr(s.Name(), err)
	}
	req.Header.Set("Accept", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, wrapSourceErr(s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, wrapSourceErr(s.Name(), fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	c, err := DecodeDocument(io.LimitReader(resp.Body, maxRemoteBody), s.FallbackPrice)
	if err != nil {
		return nil, wrapSourceErr(s.Name(), err)
	}
	return c, nil
}
