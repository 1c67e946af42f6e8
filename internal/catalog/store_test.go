package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func newStore(t *testing.T, name string) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), name), five)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func TestFileStoreCRUD(t *testing.T) {
	for _, name := range []string{"books.csv", "books.yaml", "books.json"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t, name)

			c, err := store.List(ctx)
			if err != nil || len(c) != 0 {
				t.Fatalf("expected empty catalog for missing file, got %v %v", c, err)
			}

			price := decimal.RequireFromString("7")
			book, index, err := store.Add(ctx, BookInput{Genre: "Mystery", Title: "Rebecca", Author: "Daphne du Maurier", Description: "Manderley", Price: &price})
			if err != nil {
				t.Fatalf("Add: %v", err)
			}
			if index != 0 || !book.Price.Equal(price) {
				t.Fatalf("unexpected add result %d %#v", index, book)
			}

			updated, err := store.Update(ctx, "mystery", 0, BookInput{Title: "Rebecca (Anniversary)"})
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			if updated.Title != "Rebecca (Anniversary)" || updated.Author != "Daphne du Maurier" {
				t.Fatalf("expected partial update, got %#v", updated)
			}

			loaded, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded["mystery"][0].Title != "Rebecca (Anniversary)" {
				t.Fatalf("expected persisted update, got %#v", loaded)
			}

			if _, err := store.Delete(ctx, "mystery", 0); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			loaded, _ = store.Load(ctx)
			if _, ok := loaded["mystery"]; ok {
				t.Fatalf("expected empty genre to be removed")
			}
		})
	}
}

func TestFileStoreErrors(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "books.csv")

	if _, _, err := store.Add(ctx, BookInput{Genre: "mystery", Title: "No author"}); !errors.Is(err, ErrInvalidBook) {
		t.Fatalf("expected ErrInvalidBook, got %v", err)
	}
	if _, err := store.Update(ctx, "mystery", 3, BookInput{Title: "x"}); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got %v", err)
	}
	if _, err := store.Delete(ctx, "ghost", 0); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got %v", err)
	}
}

func TestFileStoreSanitisesMarkup(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "books.yaml")

	book, _, err := store.Add(ctx, BookInput{
		Genre:       "horror",
		Title:       "<script>alert(1)</script>It",
		Author:      "Stephen <b>King</b>",
		Description: "Clowns & drains",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if book.Title != "It" || book.Author != "Stephen King" {
		t.Fatalf("expected markup stripped, got %#v", book)
	}
	if book.Description != "Clowns & drains" {
		t.Fatalf("expected plain text preserved, got %q", book.Description)
	}
}

func TestFileStoreImportReplacesCatalog(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "books.csv")
	if _, _, err := store.Add(ctx, BookInput{Genre: "old", Title: "a", Author: "b", Description: "c"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	imported, err := store.Import(ctx, strings.NewReader("genre,title,author,description,price\nFantasy,Mistborn,Brandon Sanderson,Heist,\n"))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(imported) != 1 || !imported["fantasy"][0].Price.Equal(five) {
		t.Fatalf("unexpected import %#v", imported)
	}
	loaded, _ := store.Load(ctx)
	if _, ok := loaded["old"]; ok {
		t.Fatalf("expected import to replace existing catalog")
	}

	if _, err := store.Import(ctx, strings.NewReader("genre,title\n")); !errors.Is(err, ErrEmptyCatalog) {
		t.Fatalf("expected ErrEmptyCatalog, got %v", err)
	}
}
