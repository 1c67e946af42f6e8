package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/mysterybooks/storefront/internal/domain"
)

var (
	// ErrBookNotFound is returned when genre/index does not address an existing book.
	ErrBookNotFound = errors.New("catalog: book not found")
	// ErrInvalidBook is returned when required book fields are missing.
	ErrInvalidBook = errors.New("catalog: missing required book fields")
)

// BookInput carries admin-supplied book fields. Empty fields are ignored on update.
type BookInput struct {
	Genre       string
	Title       string
	Author      string
	Description string
	Price       *decimal.Decimal
}

// FileStore is a writable catalog file used by the maintenance endpoints. It doubles as a Source so
// sessions created after an edit see the new catalog.
type FileStore struct {
	path          string
	format        Format
	fallbackPrice decimal.Decimal
	policy        *bluemonday.Policy

	mu sync.Mutex
}

// NewFileStore constructs a store over path, inferring its format from the extension.
func NewFileStore(path string, fallbackPrice decimal.Decimal) (*FileStore, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{
		path:          path,
		format:        format,
		fallbackPrice: fallbackPrice,
		policy:        bluemonday.StrictPolicy(),
	}, nil
}

// Name implements Source.
func (s *FileStore) Name() string { return "file-store" }

// Load implements Source.
func (s *FileStore) Load(ctx context.Context) (domain.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx)
}

// List returns the stored catalog, empty when the file does not exist yet.
func (s *FileStore) List(ctx context.Context) (domain.Catalog, error) {
	return s.Load(ctx)
}

// Add appends a book to its genre and returns it with its index.
func (s *FileStore) Add(ctx context.Context, in BookInput) (domain.Book, int, error) {
	in = s.sanitize(in)
	genre := domain.NormaliseGenre(in.Genre)
	if genre == "" || in.Title == "" || in.Author == "" || in.Description == "" {
		return domain.Book{}, 0, ErrInvalidBook
	}
	book := domain.Book{Title: in.Title, Author: in.Author, Description: in.Description, Price: s.fallbackPrice}
	if in.Price != nil {
		book.Price = positiveOr(*in.Price, s.fallbackPrice)
	}

	var index int
	err := s.mutate(ctx, func(c domain.Catalog) error {
		c[genre] = append(c[genre], book)
		index = len(c[genre]) - 1
		return nil
	})
	return book, index, err
}

// Update overwrites the non-empty fields of the book at genre/index.
func (s *FileStore) Update(ctx context.Context, genre string, index int, in BookInput) (domain.Book, error) {
	in = s.sanitize(in)
	genre = domain.NormaliseGenre(genre)

	var updated domain.Book
	err := s.mutate(ctx, func(c domain.Catalog) error {
		books := c[genre]
		if index < 0 || index >= len(books) {
			return ErrBookNotFound
		}
		book := books[index]
		if in.Title != "" {
			book.Title = in.Title
		}
		if in.Author != "" {
			book.Author = in.Author
		}
		if in.Description != "" {
			book.Description = in.Description
		}
		if in.Price != nil && in.Price.IsPositive() {
			book.Price = *in.Price
		}
		books[index] = book
		updated = book
		return nil
	})
	return updated, err
}

// Delete removes the book at genre/index and returns it. A genre left empty is dropped.
func (s *FileStore) Delete(ctx context.Context, genre string, index int) (domain.Book, error) {
	genre = domain.NormaliseGenre(genre)

	var removed domain.Book
	err := s.mutate(ctx, func(c domain.Catalog) error {
		books := c[genre]
		if index < 0 || index >= len(books) {
			return ErrBookNotFound
		}
		removed = books[index]
		c[genre] = append(books[:index:index], books[index+1:]...)
		if len(c[genre]) == 0 {
			delete(c, genre)
		}
		return nil
	})
	return removed, err
}

// Import replaces the stored catalog with the CSV read from r.
func (s *FileStore) Import(ctx context.Context, r io.Reader) (domain.Catalog, error) {
	parsed, err := DecodeCSV(r, s.fallbackPrice)
	if err != nil {
		return nil, err
	}
	for genre, books := range parsed {
		for i, book := range books {
			clean := s.sanitize(BookInput{Title: book.Title, Author: book.Author, Description: book.Description})
			books[i].Title, books[i].Author, books[i].Description = clean.Title, clean.Author, clean.Description
		}
		parsed[genre] = books
	}
	parsed = domain.NormalizeCatalog(parsed)
	if len(parsed) == 0 {
		return nil, ErrEmptyCatalog
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

func (s *FileStore) mutate(ctx context.Context, fn func(domain.Catalog) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.read(ctx)
	if err != nil {
		return err
	}
	if err := fn(c); err != nil {
		return err
	}
	return s.write(c)
}

func (s *FileStore) read(ctx context.Context) (domain.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.Catalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.Catalog{}, nil
	}
	c, err := Decode(bytes.NewReader(data), s.format, s.fallbackPrice)
	if errors.Is(err, ErrEmptyCatalog) {
		return domain.Catalog{}, nil
	}
	if err != nil {
		return nil, err
	}
	return domain.NormalizeCatalog(c), nil
}

// write replaces the file atomically through a temp file in the same directory.
func (s *FileStore) write(c domain.Catalog) error {
	var buf bytes.Buffer
	if err := Encode(&buf, s.format, c); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".catalog-*")
	if err != nil {
		return fmt.Errorf("catalog: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("catalog: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("catalog: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("catalog: replace %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) sanitize(in BookInput) BookInput {
	clean := func(v string) string {
		// StrictPolicy entity-escapes text; the store keeps plain text and escapes on render.
		return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(strings.TrimSpace(v))))
	}
	in.Genre = clean(in.Genre)
	in.Title = clean(in.Title)
	in.Author = clean(in.Author)
	in.Description = clean(in.Description)
	return in
}
