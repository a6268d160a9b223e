// Package storage persists harvested books with title-keyed upserts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aluiziolira/go-harvest-books/config"
	"github.com/aluiziolira/go-harvest-books/models"
)

// ErrNotFound is returned by Get when no row has the requested title.
var ErrNotFound = errors.New("book not found")

// Store is a books table that supports atomic batch upserts.
type Store interface {
	EnsureSchema(ctx context.Context) error
	// Upsert writes all records in one transaction and returns how many were
	// written. Nothing is written when it fails.
	Upsert(ctx context.Context, records []models.Book) (int, error)
	Get(ctx context.Context, title string) (*models.BookRow, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// PersistError reports the storage operation that failed.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Option customises a store.
type Option func(*options)

type options struct {
	now func() time.Time
	log zerolog.Logger
}

// WithClock sets the timestamp source for created_at and updated_at.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the store logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open connects to the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, opts ...Option) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, &PersistError{Op: "connect", Err: errors.New("database dsn is empty")}
	}
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg, opts...)
	case "sqlite":
		return NewSQLite(ctx, cfg.DSN, opts...)
	default:
		return nil, &PersistError{Op: "connect", Err: fmt.Errorf("unsupported driver %q", cfg.Driver)}
	}
}

func validateRecords(records []models.Book) error {
	for i, r := range records {
		if strings.TrimSpace(r.Title) == "" {
			return &PersistError{Op: "validate", Err: fmt.Errorf("record %d has an empty title", i)}
		}
	}
	return nil
}
