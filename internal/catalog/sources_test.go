package catalog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestFileSourceLoadsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.csv")
	content := "genre,title,author,description,price\nthriller,Gone,Someone,Desc,5.00\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	src, err := NewFileSource(path, "", five)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	c, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c["thriller"][0].Title != "Gone" {
		t.Fatalf("unexpected catalog %#v", c)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src, _ := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml"), "", five)
	if _, err := src.Load(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not exist error, got %v", err)
	}
}

func TestRemoteSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/books":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"romance":[{"title":"Persuasion","author":"Jane Austen","description":"Second chances","price":5}]}`)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c, err := NewRemoteSource(srv.URL+"/api/books", five).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c["romance"][0].Author != "Jane Austen" {
		t.Fatalf("unexpected catalog %#v", c)
	}

	if _, err := NewRemoteSource(srv.URL+"/down", five).Load(context.Background()); err == nil {
		t.Fatalf("expected error for non-2xx status")
	}
}

func TestGCSSource(t *testing.T) {
	var gotBucket, gotObject string
	opener := func(_ context.Context, bucket, object string) (io.ReadCloser, error) {
		gotBucket, gotObject = bucket, object
		return io.NopCloser(strings.NewReader("sci-fi:\n  - title: Dune\n")), nil
	}
	src, err := NewGCSSource(opener, "catalog-bucket", "books.yaml", five)
	if err != nil {
		t.Fatalf("NewGCSSource: %v", err)
	}
	c, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if gotBucket != "catalog-bucket" || gotObject != "books.yaml" {
		t.Fatalf("unexpected object gs://%s/%s", gotBucket, gotObject)
	}
	if !c["sci-fi"][0].Price.Equal(five) {
		t.Fatalf("expected fallback price, got %s", c["sci-fi"][0].Price)
	}

	failing := func(context.Context, string, string) (io.ReadCloser, error) { return nil, errors.New("denied") }
	src, _ = NewGCSSource(failing, "b", "books.csv", five)
	if _, err := src.Load(context.Background()); err == nil {
		t.Fatalf("expected open error")
	}
	if _, err := NewGCSSource(opener, "b", "books.txt", five); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected unknown format, got %v", err)
	}
}

func TestCatalogFromRecordsOrdersByPosition(t *testing.T) {
	records := []bookRecord{
		{Genre: "Horror", Title: "The Exorcist", Position: 2, Price: 5},
		{Genre: "horror", Title: "The Shining", Position: 1},
	}
	c := catalogFromRecords(records, five)
	if c["horror"][0].Title != "The Shining" || c["horror"][1].Title != "The Exorcist" {
		t.Fatalf("unexpected order %#v", c["horror"])
	}
	if !c["horror"][0].Price.Equal(five) {
		t.Fatalf("expected zero price to fall back")
	}
}

func TestCatalogFromRows(t *testing.T) {
	rows := []bookRow{
		{Genre: "Mystery", Title: "Gone Girl", Price: decimal.NullDecimal{Decimal: decimal.RequireFromString("6.5"), Valid: true}},
		{Genre: "mystery", Title: "The Silent Patient"},
	}
	c := catalogFromRows(rows, five)
	if len(c["mystery"]) != 2 {
		t.Fatalf("expected two rows, got %d", len(c["mystery"]))
	}
	if c["mystery"][0].Price.StringFixed(2) != "6.50" || !c["mystery"][1].Price.Equal(five) {
		t.Fatalf("unexpected prices %s %s", c["mystery"][0].Price, c["mystery"][1].Price)
	}
}

func TestNewPostgresSourceValidatesTable(t *testing.T) {
	for _, table := range []string{"books; drop table x", "1books", ""} {
		if _, err := NewPostgresSource(nil, table, five); err == nil {
			t.Fatalf("expected invalid table error for %q", table)
		}
	}
	src, err := NewPostgresSource(nil, "public.books", five)
	if err != nil {
		t.Fatalf("NewPostgresSource: %v", err)
	}
	if !strings.Contains(src.query, "FROM public.books") {
		t.Fatalf("unexpected query %s", src.query)
	}
}
