package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mysterybooks/storefront/internal/catalog"
	"github.com/mysterybooks/storefront/internal/platform/auth"
)

const adminTestSecret = "0123456789abcdef0123456789abcdef"

type adminFixture struct {
	router http.Handler
	store  *catalog.FileStore
	token  string
	writes int
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	store, err := catalog.NewFileStore(filepath.Join(t.TempDir(), "books.csv"), decimal.RequireFromString("5"))
	require.NoError(t, err)
	tokens, err := auth.NewAdminTokens(adminTestSecret, "storefront-test", time.Hour)
	require.NoError(t, err)
	token, _, err := tokens.Issue("ops@example.com")
	require.NoError(t, err)

	f := &adminFixture{store: store, token: token}
	router := chi.NewRouter()
	router.Route("/admin", NewAdminBooksHandlers(store,
		WithAdminGuard(tokens.RequireAdmin()),
		WithCatalogWriteHook(func(context.Context) { f.writes++ }),
	).Routes)
	f.router = router
	return f
}

func (f *adminFixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	var resp map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	}
	return rr, resp
}

func TestAdminBooksRequireToken(t *testing.T) {
	f := newAdminFixture(t)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/books", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminBooksLifecycle(t *testing.T) {
	f := newAdminFixture(t)

	rr, resp := f.do(t, http.MethodPost, "/admin/books", `{"genre":"Mystery","title":"Rebecca","author":"Daphne du Maurier","description":"<b>Manderley</b> again","price":"6.50"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, true, resp["success"])
	book := resp["book"].(map[string]any)
	assert.Equal(t, "mystery", book["genre"])
	assert.Equal(t, float64(0), book["index"])
	assert.Equal(t, "Manderley again", book["description"])
	assert.Equal(t, 6.5, book["price"])

	rr, resp = f.do(t, http.MethodPut, "/admin/books/mystery/0", `{"title":"Rebecca (Anniversary)","author":""}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	book = resp["book"].(map[string]any)
	assert.Equal(t, "Rebecca (Anniversary)", book["title"])
	assert.Equal(t, "Daphne du Maurier", book["author"])

	rr, resp = f.do(t, http.MethodGet, "/admin/books", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(1), resp["total"])

	rr, _ = f.do(t, http.MethodDelete, "/admin/books/mystery/0", "")
	require.Equal(t, http.StatusOK, rr.Code)

	c, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, c)
	assert.Equal(t, 3, f.writes)
}

func TestAdminBooksErrors(t *testing.T) {
	f := newAdminFixture(t)

	rr, resp := f.do(t, http.MethodPost, "/admin/books", `{"genre":"mystery","title":"No author"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Missing required fields", resp["message"])

	rr, resp = f.do(t, http.MethodPut, "/admin/books/mystery/4", `{"title":"x"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Book not found", resp["message"])

	rr, _ = f.do(t, http.MethodDelete, "/admin/books/mystery/abc", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = f.do(t, http.MethodPost, "/admin/books", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 0, f.writes)
}

func TestAdminBooksImportCSV(t *testing.T) {
	f := newAdminFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(csvUploadField, "books.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("genre,title,author,description,price\nhorror,Dracula,Bram Stoker,Count,\nhorror,Carrie,Stephen King,Prom,7\nromance,Emma,Jane Austen,Matchmaking,4\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/admin/books/import", &buf)
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	c, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, c["horror"], 2)
	assert.True(t, c["horror"][0].Price.Equal(decimal.RequireFromString("5")))

	req = httptest.NewRequest(http.MethodPost, "/admin/books/import", strings.NewReader(""))
	req.Header.Set("Authorization", "Bearer "+f.token)
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "No CSV file uploaded")
}
