package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mysterybooks/storefront/internal/catalog"
	"github.com/mysterybooks/storefront/internal/domain"
	"github.com/mysterybooks/storefront/internal/platform/httpx"
	"github.com/mysterybooks/storefront/internal/platform/requestctx"
)

const (
	maxAdminBodySize   = 32 * 1024
	maxCatalogUploadMB = 5
	csvUploadField     = "csv"
)

// BookStore is the writable catalog backing the maintenance endpoints.
type BookStore interface {
	List(ctx context.Context) (domain.Catalog, error)
	Add(ctx context.Context, in catalog.BookInput) (domain.Book, int, error)
	Update(ctx context.Context, genre string, index int, in catalog.BookInput) (domain.Book, error)
	Delete(ctx context.Context, genre string, index int) (domain.Book, error)
	Import(ctx context.Context, r io.Reader) (domain.Catalog, error)
}

// AdminBooksHandlers exposes catalog maintenance endpoints guarded by an admin middleware.
type AdminBooksHandlers struct {
	store   BookStore
	guard   func(http.Handler) http.Handler
	onWrite func(ctx context.Context)
}

// AdminBooksOption customises AdminBooksHandlers.
type AdminBooksOption func(*AdminBooksHandlers)

// WithAdminGuard sets the authentication middleware protecting every route.
func WithAdminGuard(guard func(http.Handler) http.Handler) AdminBooksOption {
	return func(h *AdminBooksHandlers) {
		h.guard = guard
	}
}

// WithCatalogWriteHook registers a callback run after each successful mutation.
func WithCatalogWriteHook(fn func(ctx context.Context)) AdminBooksOption {
	return func(h *AdminBooksHandlers) {
		h.onWrite = fn
	}
}

// NewAdminBooksHandlers constructs maintenance handlers over store.
func NewAdminBooksHandlers(store BookStore, opts ...AdminBooksOption) *AdminBooksHandlers {
	h := &AdminBooksHandlers{store: store}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the maintenance endpoints relative to the admin mount point.
func (h *AdminBooksHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/books", func(rt chi.Router) {
		if h.guard != nil {
			rt.Use(h.guard)
		}
		rt.Get("/", h.listBooks)
		rt.Post("/", h.addBook)
		rt.Post("/import", h.importCSV)
		rt.Put("/{genre}/{index}", h.updateBook)
		rt.Delete("/{genre}/{index}", h.deleteBook)
	})
}

type adminBookRequest struct {
	Genre       string           `json:"genre"`
	Title       string           `json:"title"`
	Author      string           `json:"author"`
	Description string           `json:"description"`
	Price       *decimal.Decimal `json:"price"`
}

type adminBookResponse struct {
	Genre       string      `json:"genre"`
	Index       int         `json:"index"`
	Title       string      `json:"title"`
	Author      string      `json:"author"`
	Description string      `json:"description"`
	Price       json.Number `json:"price"`
}

func newAdminBookResponse(genre string, index int, b domain.Book) adminBookResponse {
	return adminBookResponse{
		Genre:       domain.NormaliseGenre(genre),
		Index:       index,
		Title:       b.Title,
		Author:      b.Author,
		Description: b.Description,
		Price:       json.Number(b.Price.String()),
	}
}

func (h *AdminBooksHandlers) listBooks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store == nil {
		writeAdminUnavailable(ctx, w)
		return
	}
	c, err := h.store.List(ctx)
	if err != nil {
		writeAdminStoreError(ctx, w, err)
		return
	}
	out := make(map[string][]adminBookResponse, len(c))
	for _, genre := range c.Genres() {
		for i, b := range c[genre] {
			out[genre] = append(out[genre], newAdminBookResponse(genre, i, b))
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"books":  out,
		"genres": len(out),
		"total":  c.Count(),
	})
}

func (h *AdminBooksHandlers) addBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store == nil {
		writeAdminUnavailable(ctx, w)
		return
	}
	var req adminBookRequest
	if status, err := decodeJSONBody(w, r, maxAdminBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	book, index, err := h.store.Add(ctx, req.input())
	if err != nil {
		writeAdminStoreError(ctx, w, err)
		return
	}
	h.written(ctx, "catalog book added", req.Genre)
	writeJSONResponse(w, http.StatusCreated, map[string]any{
		"success": true,
		"book":    newAdminBookResponse(req.Genre, index, book),
	})
}

func (h *AdminBooksHandlers) updateBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store == nil {
		writeAdminUnavailable(ctx, w)
		return
	}
	genre, index, ok := bookAddress(ctx, w, r)
	if !ok {
		return
	}
	var req adminBookRequest
	if status, err := decodeJSONBody(w, r, maxAdminBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	book, err := h.store.Update(ctx, genre, index, req.input())
	if err != nil {
		writeAdminStoreError(ctx, w, err)
		return
	}
	h.written(ctx, "catalog book updated", genre)
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"book":    newAdminBookResponse(genre, index, book),
	})
}

func (h *AdminBooksHandlers) deleteBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store == nil {
		writeAdminUnavailable(ctx, w)
		return
	}
	genre, index, ok := bookAddress(ctx, w, r)
	if !ok {
		return
	}
	book, err := h.store.Delete(ctx, genre, index)
	if err != nil {
		writeAdminStoreError(ctx, w, err)
		return
	}
	h.written(ctx, "catalog book deleted", genre)
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"book":    newAdminBookResponse(genre, index, book),
	})
}

func (h *AdminBooksHandlers) importCSV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store == nil {
		writeAdminUnavailable(ctx, w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxCatalogUploadMB<<20)
	if err := r.ParseMultipartForm(maxCatalogUploadMB << 20); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("no_csv_file", "No CSV file uploaded", http.StatusBadRequest))
		return
	}
	file, _, err := r.FormFile(csvUploadField)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("no_csv_file", "No CSV file uploaded", http.StatusBadRequest))
		return
	}
	defer file.Close()

	imported, err := h.store.Import(ctx, file)
	if err != nil {
		writeAdminStoreError(ctx, w, err)
		return
	}
	h.written(ctx, "catalog imported", "")
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Catalog imported",
		"genres":  len(imported),
		"total":   imported.Count(),
	})
}

func (h *AdminBooksHandlers) written(ctx context.Context, msg, genre string) {
	logger := requestctx.Logger(ctx)
	if subject, ok := requestctx.Subject(ctx); ok {
		logger = logger.With(zap.String("admin", subject))
	}
	if genre != "" {
		logger = logger.With(zap.String("genre", domain.NormaliseGenre(genre)))
	}
	logger.Info(msg)
	if h.onWrite != nil {
		h.onWrite(ctx)
	}
}

func (req adminBookRequest) input() catalog.BookInput {
	return catalog.BookInput{
		Genre:       strings.TrimSpace(req.Genre),
		Title:       strings.TrimSpace(req.Title),
		Author:      strings.TrimSpace(req.Author),
		Description: strings.TrimSpace(req.Description),
		Price:       req.Price,
	}
}

func bookAddress(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, int, bool) {
	genre := strings.TrimSpace(chi.URLParam(r, "genre"))
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if genre == "" || err != nil || index < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("book_not_found", "Book not found", http.StatusNotFound))
		return "", 0, false
	}
	return genre, index, true
}

func writeAdminStoreError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrBookNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("book_not_found", "Book not found", http.StatusNotFound))
	case errors.Is(err, catalog.ErrInvalidBook):
		httpx.WriteError(ctx, w, httpx.NewError("missing_fields", "Missing required fields", http.StatusBadRequest))
	case errors.Is(err, catalog.ErrMalformedCSV):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_csv", err.Error(), http.StatusBadRequest))
	case errors.Is(err, catalog.ErrEmptyCatalog):
		httpx.WriteError(ctx, w, httpx.NewError("empty_catalog", "CSV contained no books", http.StatusBadRequest))
	default:
		requestctx.Logger(ctx).Error("catalog store failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("catalog_store_failed", "failed to update catalog", http.StatusInternalServerError))
	}
}

func writeAdminUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("admin_disabled", "catalog maintenance is not configured", http.StatusServiceUnavailable))
}
