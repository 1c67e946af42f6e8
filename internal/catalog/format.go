package catalog

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/mysterybooks/storefront/internal/domain"
)

// Format identifies a catalog file encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// CSVHeader is the column layout written by EncodeCSV and expected by DecodeCSV.
var CSVHeader = []string{"genre", "title", "author", "description", "price"}

// ErrUnknownFormat is returned for file extensions that do not map to a Format.
var ErrUnknownFormat = errors.New("catalog: unknown file format")

// ErrMalformedCSV is returned when a CSV upload cannot be parsed.
var ErrMalformedCSV = errors.New("catalog: malformed csv")

// FormatFromPath infers the encoding from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, path)
	}
}

// Decode reads a catalog in the given format. Missing or unparsable prices become fallbackPrice.
func Decode(r io.Reader, format Format, fallbackPrice decimal.Decimal) (domain.Catalog, error) {
	switch format {
	case FormatCSV:
		return DecodeCSV(r, fallbackPrice)
	case FormatYAML, FormatJSON:
		return DecodeDocument(r, fallbackPrice)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Encode writes c in the given format.
func Encode(w io.Writer, format Format, c domain.Catalog) error {
	switch format {
	case FormatCSV:
		return EncodeCSV(w, c)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(toDocument(c, false)); err != nil {
			return fmt.Errorf("catalog: encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(toDocument(c, true)); err != nil {
			return fmt.Errorf("catalog: encode json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// DecodeCSV parses rows of genre,title,author,description,price. Columns are located by header name,
// so extra or reordered columns are tolerated; genre and title are mandatory.
func DecodeCSV(r io.Reader, fallbackPrice decimal.Decimal) (domain.Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyCatalog
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedCSV, err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, required := range []string{"genre", "title"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: missing %q column", ErrMalformedCSV, required)
		}
	}

	field := func(record []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	out := domain.Catalog{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCSV, err)
		}
		genre := domain.NormaliseGenre(field(record, "genre"))
		if genre == "" {
			continue
		}
		out[genre] = append(out[genre], domain.Book{
			Title:       field(record, "title"),
			Author:      field(record, "author"),
			Description: field(record, "description"),
			Price:       parsePrice(field(record, "price"), fallbackPrice),
		})
	}
	return out, nil
}

// EncodeCSV writes c with CSVHeader, genres in sorted order.
func EncodeCSV(w io.Writer, c domain.Catalog) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(CSVHeader); err != nil {
		return fmt.Errorf("catalog: write csv: %w", err)
	}
	for _, genre := range c.Genres() {
		for _, book := range c[genre] {
			row := []string{genre, book.Title, book.Author, book.Description, book.Price.StringFixed(2)}
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("catalog: write csv: %w", err)
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

type bookDocument struct {
	Title       string `yaml:"title" json:"title"`
	Author      string `yaml:"author,omitempty" json:"author"`
	Description string `yaml:"description,omitempty" json:"description"`
	Price       any    `yaml:"price,omitempty" json:"price"`
}

// DecodeDocument parses a YAML or JSON mapping of genre to a list of books.
func DecodeDocument(r io.Reader, fallbackPrice decimal.Decimal) (domain.Catalog, error) {
	var doc map[string][]bookDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyCatalog
		}
		return nil, fmt.Errorf("catalog: decode document: %w", err)
	}
	out := make(domain.Catalog, len(doc))
	for genre, books := range doc {
		for _, b := range books {
			out[genre] = append(out[genre], domain.Book{
				Title:       b.Title,
				Author:      b.Author,
				Description: b.Description,
				Price:       priceFromAny(b.Price, fallbackPrice),
			})
		}
	}
	return out, nil
}

func toDocument(c domain.Catalog, numericJSON bool) map[string][]bookDocument {
	doc := make(map[string][]bookDocument, len(c))
	for genre, books := range c {
		list := make([]bookDocument, 0, len(books))
		for _, b := range books {
			var price any = b.Price.InexactFloat64()
			if numericJSON {
				price = json.Number(b.Price.String())
			}
			list = append(list, bookDocument{Title: b.Title, Author: b.Author, Description: b.Description, Price: price})
		}
		doc[genre] = list
	}
	return doc
}

func priceFromAny(value any, fallback decimal.Decimal) decimal.Decimal {
	switch v := value.(type) {
	case nil:
		return fallback
	case int:
		return positiveOr(decimal.NewFromInt(int64(v)), fallback)
	case float64:
		return positiveOr(decimal.NewFromFloat(v), fallback)
	case string:
		return parsePrice(v, fallback)
	default:
		return parsePrice(fmt.Sprint(v), fallback)
	}
}

// parsePrice mirrors the storefront's historic "parse or default" rule: zero and garbage both fall back.
func parsePrice(raw string, fallback decimal.Decimal) decimal.Decimal {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "£"))
	if raw == "" {
		return fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		if f, ferr := strconv.ParseFloat(raw, 64); ferr == nil {
			d = decimal.NewFromFloat(f)
		} else {
			return fallback
		}
	}
	return positiveOr(d, fallback)
}

func positiveOr(d, fallback decimal.Decimal) decimal.Decimal {
	if !d.IsPositive() {
		return fallback
	}
	return d
}
