package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/aluiziolira/go-harvest-books/models"
)

// Timestamps are stored as fixed-width UTC text so that max() orders them.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS books (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL UNIQUE,
	authors TEXT,
	price TEXT,
	rating TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_books_title ON books(title);
CREATE INDEX IF NOT EXISTS idx_books_created_at ON books(created_at);
`

const sqliteUpsert = `INSERT INTO books (title, authors, price, rating, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(title) DO UPDATE SET
	authors = excluded.authors,
	price = excluded.price,
	rating = excluded.rating,
	updated_at = max(books.updated_at, excluded.updated_at)`

// SQLite is a Store backed by a local SQLite file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewSQLite opens or creates the database at path.
func NewSQLite(ctx context.Context, path string, opts ...Option) (*SQLite, error) {
	o := buildOptions(opts)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &PersistError{Op: "connect", Err: err}
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, &PersistError{Op: "connect", Err: fmt.Errorf("%s: %w", pragma, err)}
		}
	}

	return &SQLite{db: db, now: o.now, log: o.log}, nil
}

// DB exposes the underlying handle.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// EnsureSchema creates the books table and its indexes if missing.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return &PersistError{Op: "schema", Err: err}
	}
	s.log.Info().Msg("books schema verified")
	return nil
}

// Upsert writes records in a single transaction.
func (s *SQLite) Upsert(ctx context.Context, records []models.Book) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := validateRecords(records); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &PersistError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return 0, &PersistError{Op: "upsert", Err: err}
	}
	defer stmt.Close()

	ts := s.now().UTC().Format(sqliteTimeLayout)
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Title, r.Author, r.Price, r.Rating, ts, ts); err != nil {
			return 0, &PersistError{Op: "upsert", Err: fmt.Errorf("record %q: %w", r.Title, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &PersistError{Op: "commit", Err: err}
	}
	s.log.Info().Int("records", len(records)).Msg("books upserted")
	return len(records), nil
}

// Get returns the row stored under title.
func (s *SQLite) Get(ctx context.Context, title string) (*models.BookRow, error) {
	row := &models.BookRow{}
	var created, updated string
	err := s.db.QueryRowContext(ctx, `SELECT id, title, COALESCE(authors, ''), COALESCE(price, ''), COALESCE(rating, ''), created_at, updated_at
		FROM books WHERE title = ?`, title).
		Scan(&row.ID, &row.Title, &row.Authors, &row.Price, &row.Rating, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistError{Op: "get", Err: err}
	}

	if row.CreatedAt, err = time.Parse(sqliteTimeLayout, created); err != nil {
		return nil, &PersistError{Op: "get", Err: fmt.Errorf("created_at: %w", err)}
	}
	if row.UpdatedAt, err = time.Parse(sqliteTimeLayout, updated); err != nil {
		return nil, &PersistError{Op: "get", Err: fmt.Errorf("updated_at: %w", err)}
	}
	return row, nil
}

// Count returns the number of stored books.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM books`).Scan(&n); err != nil {
		return 0, &PersistError{Op: "count", Err: err}
	}
	return n, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
