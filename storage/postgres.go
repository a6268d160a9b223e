package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/aluiziolira/go-harvest-books/config"
	"github.com/aluiziolira/go-harvest-books/models"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL UNIQUE,
		authors TEXT,
		price TEXT,
		rating TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_books_title ON books(title)`,
	`CREATE INDEX IF NOT EXISTS idx_books_created_at ON books(created_at)`,
}

const postgresUpsert = `INSERT INTO books (title, authors, price, rating, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (title) DO UPDATE SET
	authors = EXCLUDED.authors,
	price = EXCLUDED.price,
	rating = EXCLUDED.rating,
	updated_at = GREATEST(books.updated_at, EXCLUDED.updated_at)`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
	log  zerolog.Logger
}

// NewPostgres opens a pool for cfg.DSN. SimpleProtocol is required behind
// PgBouncer in transaction mode.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig, opts ...Option) (*Postgres, error) {
	o := buildOptions(opts)

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, &PersistError{Op: "connect", Err: fmt.Errorf("parse dsn: %w", err)}
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 2
	}
	poolCfg.MaxConns = int32(maxConns)
	if cfg.SimpleProtocol {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &PersistError{Op: "connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &PersistError{Op: "connect", Err: err}
	}

	return &Postgres{pool: pool, now: o.now, log: o.log}, nil
}

// EnsureSchema creates the books table and its indexes if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return &PersistError{Op: "schema", Err: err}
		}
	}
	p.log.Info().Msg("books schema verified")
	return nil
}

// Upsert writes records in a single transaction, queued as one batch.
func (p *Postgres) Upsert(ctx context.Context, records []models.Book) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := validateRecords(records); err != nil {
		return 0, err
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, &PersistError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ts := p.now().UTC()
	b := &pgx.Batch{}
	for _, r := range records {
		b.Queue(postgresUpsert, r.Title, r.Author, r.Price, r.Rating, ts)
	}

	br := tx.SendBatch(ctx, b)
	for i := range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return 0, &PersistError{Op: "upsert", Err: fmt.Errorf("record %q: %w", records[i].Title, err)}
		}
	}
	if err := br.Close(); err != nil {
		return 0, &PersistError{Op: "upsert", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &PersistError{Op: "commit", Err: err}
	}
	p.log.Info().Int("records", len(records)).Msg("books upserted")
	return len(records), nil
}

// Get returns the row stored under title.
func (p *Postgres) Get(ctx context.Context, title string) (*models.BookRow, error) {
	row := &models.BookRow{}
	err := p.pool.QueryRow(ctx, `SELECT id, title, COALESCE(authors, ''), COALESCE(price, ''), COALESCE(rating, ''), created_at, updated_at
		FROM books WHERE title = $1`, title).
		Scan(&row.ID, &row.Title, &row.Authors, &row.Price, &row.Rating, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistError{Op: "get", Err: err}
	}
	return row, nil
}

// Count returns the number of stored books.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM books`).Scan(&n); err != nil {
		return 0, &PersistError{Op: "count", Err: err}
	}
	return n, nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
