package handlers

import (
	"bytes"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mysterybooks/storefront/internal/catalog"
	"github.com/mysterybooks/storefront/internal/payments"
	"github.com/mysterybooks/storefront/internal/platform/httpx"
	"github.com/mysterybooks/storefront/internal/platform/requestctx"
	"github.com/mysterybooks/storefront/internal/services"
)

// BooksHandlers exposes the public catalog and the status probe used by the browser client.
type BooksHandlers struct {
	catalog  services.CatalogLoader
	provider string
	keyType  string
	clock    func() time.Time
}

// BooksOption customises BooksHandlers.
type BooksOption func(*BooksHandlers)

// WithBooksClock overrides the clock used for status timestamps.
func WithBooksClock(clock func() time.Time) BooksOption {
	return func(h *BooksHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithPaymentStatus reports which gateway binding is active on /test.
func WithPaymentStatus(provider, keyType string) BooksOption {
	return func(h *BooksHandlers) {
		h.provider = provider
		h.keyType = keyType
	}
}

// NewBooksHandlers constructs the catalog handlers.
func NewBooksHandlers(loader services.CatalogLoader, opts ...BooksOption) *BooksHandlers {
	h := &BooksHandlers{
		catalog:  loader,
		provider: payments.ProviderMock,
		keyType:  payments.KeyTypeNone,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the catalog endpoints.
func (h *BooksHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/api/books", h.listBooks)
	r.Get("/test", h.status)
}

func (h *BooksHandlers) listBooks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is not configured", http.StatusServiceUnavailable))
		return
	}
	books := h.catalog.Load(ctx)

	var buf bytes.Buffer
	if err := catalog.Encode(&buf, catalog.FormatJSON, books); err != nil {
		requestctx.Logger(ctx).Error("encode catalog failed")
		httpx.WriteError(ctx, w, httpx.NewError("catalog_encode_failed", "failed to encode catalog", http.StatusInternalServerError))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *BooksHandlers) status(w http.ResponseWriter, r *http.Request) {
	stripe := "mock mode"
	if h.provider == payments.ProviderStripe {
		stripe = "enabled"
	}
	genres := 0
	if h.catalog != nil {
		genres = len(h.catalog.Load(r.Context()))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"message":   "Server is working!",
		"timestamp": h.clock().UTC().Format(time.RFC3339),
		"stripe":    stripe,
		"keyType":   h.keyType,
		"books":     genres,
	})
}
