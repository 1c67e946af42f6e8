package domain

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Book is one catalog entry. Identity is positional within its genre.
type Book struct {
	Title       string
	Author      string
	Description string
	Price       decimal.Decimal
}

// Catalog maps a lowercase genre key to its ordered, non-empty list of books.
type Catalog map[string][]Book

// NormaliseGenre lower-cases and trims a genre key.
func NormaliseGenre(genre string) string {
	return strings.ToLower(strings.TrimSpace(genre))
}

// NormalizeCatalog returns a copy of c with normalised keys, untitled books removed and empty
// genres dropped. Genres that normalise to the same key are concatenated in key order.
func NormalizeCatalog(c Catalog) Catalog {
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make(Catalog, len(c))
	for _, key := range keys {
		genre := NormaliseGenre(key)
		if genre == "" {
			continue
		}
		for _, book := range c[key] {
			book.Title = strings.TrimSpace(book.Title)
			if book.Title == "" {
				continue
			}
			book.Author = strings.TrimSpace(book.Author)
			book.Description = strings.TrimSpace(book.Description)
			out[genre] = append(out[genre], book)
		}
	}
	return out
}

// Clone returns a deep copy so callers cannot mutate shared book slices.
func (c Catalog) Clone() Catalog {
	if c == nil {
		return nil
	}
	out := make(Catalog, len(c))
	for genre, books := range c {
		out[genre] = append([]Book(nil), books...)
	}
	return out
}

// Genres returns the genre keys in a stable order.
func (c Catalog) Genres() []string {
	genres := make([]string, 0, len(c))
	for genre := range c {
		genres = append(genres, genre)
	}
	sort.Strings(genres)
	return genres
}

// Books returns the books for genre, or nil when the genre is absent.
func (c Catalog) Books(genre string) []Book {
	return c[NormaliseGenre(genre)]
}

// Contains reports whether book is an element of catalog[genre].
func (c Catalog) Contains(genre string, book Book) bool {
	for _, candidate := range c.Books(genre) {
		if candidate.Title == book.Title && candidate.Author == book.Author && candidate.Description == book.Description && candidate.Price.Equal(book.Price) {
			return true
		}
	}
	return false
}

// Count returns the total number of books.
func (c Catalog) Count() int {
	total := 0
	for _, books := range c {
		total += len(books)
	}
	return total
}
