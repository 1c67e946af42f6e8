package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mysterybooks/storefront/internal/catalog"
	"github.com/mysterybooks/storefront/internal/domain"
	"github.com/mysterybooks/storefront/internal/payments"
)

type staticCatalog domain.Catalog

func (c staticCatalog) Load(context.Context) domain.Catalog { return domain.Catalog(c).Clone() }

func TestBooksHandlersListBooks(t *testing.T) {
	router := chi.NewRouter()
	NewBooksHandlers(staticCatalog(catalog.Default())).Routes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/books", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body map[string][]map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != len(catalog.DefaultGenres()) {
		t.Fatalf("expected %d genres, got %d", len(catalog.DefaultGenres()), len(body))
	}
	mystery := body["mystery"]
	if len(mystery) == 0 {
		t.Fatalf("expected mystery books in response")
	}
	if _, ok := mystery[0]["price"].(float64); !ok {
		t.Fatalf("expected numeric price, got %#v", mystery[0]["price"])
	}
	if mystery[0]["title"] == "" {
		t.Fatalf("expected title in response")
	}
}

func TestBooksHandlersStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	cases := []struct {
		name     string
		provider string
		keyType  string
		stripe   string
	}{
		{name: "stripe", provider: payments.ProviderStripe, keyType: payments.KeyTypeTest, stripe: "enabled"},
		{name: "mock", provider: payments.ProviderMock, keyType: payments.KeyTypeNone, stripe: "mock mode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := chi.NewRouter()
			NewBooksHandlers(staticCatalog(catalog.Default()),
				WithBooksClock(func() time.Time { return now }),
				WithPaymentStatus(tc.provider, tc.keyType),
			).Routes(router)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
			var resp map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp["message"] != "Server is working!" || resp["stripe"] != tc.stripe {
				t.Fatalf("unexpected status %#v", resp)
			}
			if resp["keyType"] != tc.keyType || resp["timestamp"] != "2024-05-01T09:30:00Z" {
				t.Fatalf("unexpected status %#v", resp)
			}
			if resp["books"] != float64(len(catalog.DefaultGenres())) {
				t.Fatalf("expected genre count, got %#v", resp["books"])
			}
		})
	}
}
