package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mysterybooks/storefront/internal/domain"
	"github.com/mysterybooks/storefront/internal/platform/observability"
)

// ErrEmptyCatalog is returned by sources that produced no usable books.
var ErrEmptyCatalog = errors.New("catalog: source returned no books")

// Source loads a catalog from one backing store.
type Source interface {
	Name() string
	Load(ctx context.Context) (domain.Catalog, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc struct {
	Label string
	Fn    func(ctx context.Context) (domain.Catalog, error)
}

// Name implements Source.
func (s SourceFunc) Name() string { return s.Label }

// Load implements Source.
func (s SourceFunc) Load(ctx context.Context) (domain.Catalog, error) { return s.Fn(ctx) }

// EmbeddedSource serves the default catalog.
type EmbeddedSource struct{}

// Name implements Source.
func (EmbeddedSource) Name() string { return "embedded" }

// Load implements Source.
func (EmbeddedSource) Load(context.Context) (domain.Catalog, error) { return Default(), nil }

// Provider loads the catalog from its primary source and substitutes the embedded default on any failure.
type Provider struct {
	source    Source
	timeout   time.Duration
	logger    *zap.Logger
	fallbacks observability.Counter
}

// ProviderOption customises a Provider.
type ProviderOption func(*Provider)

// WithTimeout bounds a single primary load attempt.
func WithTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithLogger sets the logger used for fallback diagnostics.
func WithLogger(logger *zap.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProvider builds a Provider around source. A nil source serves the embedded catalog.
func NewProvider(source Source, opts ...ProviderOption) *Provider {
	if source == nil {
		source = EmbeddedSource{}
	}
	p := &Provider{
		source:  source,
		timeout: 5 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.fallbacks = observability.NewCounter("catalog.fallbacks", "Catalog loads that fell back to the embedded default", p.logger)
	return p
}

// SourceName reports the configured primary source.
func (p *Provider) SourceName() string {
	return p.source.Name()
}

// Load returns the primary catalog, or the embedded default when the primary attempt fails or yields
// nothing. It never returns an empty catalog.
func (p *Provider) Load(ctx context.Context) domain.Catalog {
	start := time.Now()
	loadCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	loaded, err := p.source.Load(loadCtx)
	if err == nil {
		loaded = domain.NormalizeCatalog(loaded)
		if len(loaded) == 0 {
			err = ErrEmptyCatalog
		}
	}
	if err != nil {
		p.logger.Warn("catalog: primary source failed, using embedded catalog",
			zap.String("source", p.source.Name()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		p.fallbacks.Add(ctx, "source", p.source.Name(), "reason", fallbackReason(err))
		return domain.NormalizeCatalog(Default())
	}

	p.logger.Debug("catalog: loaded",
		zap.String("source", p.source.Name()),
		zap.Int("genres", len(loaded)),
		zap.Int("books", loaded.Count()),
	)
	return loaded
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCatalog):
		return "empty"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func wrapSourceErr(source string, err error) error {
	return fmt.Errorf("catalog: %s source: %w", source, err)
}
