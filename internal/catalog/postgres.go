package catalog

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mysterybooks/storefront/internal/domain"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// PostgresSource reads books from a table with columns genre, title, author, description, price
// and an optional ordering column position.
type PostgresSource struct {
	db            *sqlx.DB
	query         string
	fallbackPrice decimal.Decimal
}

type bookRow struct {
	Genre       string              `db:"genre"`
	Title       string              `db:"title"`
	Author      string              `db:"author"`
	Description string              `db:"description"`
	Price       decimal.NullDecimal `db:"price"`
}

// OpenPostgres opens a pooled connection using the lib/pq driver.
func OpenPostgres(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	return db, nil
}

// NewPostgresSource validates table and prepares the select statement.
func NewPostgresSource(db *sqlx.DB, table string, fallbackPrice decimal.Decimal) (*PostgresSource, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("catalog: invalid table name %q", table)
	}
	query := fmt.Sprintf(
		`SELECT genre, title, COALESCE(author, '') AS author, COALESCE(description, '') AS description, price FROM %s ORDER BY genre, position, title`,
		table,
	)
	return &PostgresSource{db: db, query: query, fallbackPrice: fallbackPrice}, nil
}

// Name implements Source.
func (s *PostgresSource) Name() string { return "postgres" }

// Load implements Source.
func (s *PostgresSource) Load(ctx context.Context) (domain.Catalog, error) {
	var rows []bookRow
	if err := s.db.SelectContext(ctx, &rows, s.query); err != nil {
		return nil, wrapSourceErr(s.Name(), err)
	}
	return catalogFromRows(rows, s.fallbackPrice), nil
}

func catalogFromRows(rows []bookRow, fallbackPrice decimal.Decimal) domain.Catalog {
	out := domain.Catalog{}
	for _, row := range rows {
		price := fallbackPrice
		if row.Price.Valid {
			price = positiveOr(row.Price.Decimal, fallbackPrice)
		}
		genre := domain.NormaliseGenre(row.Genre)
		out[genre] = append(out[genre], domain.Book{
			Title:       row.Title,
			Author:      row.Author,
			Description: row.Description,
			Price:       price,
		})
	}
	return out
}
