// Package handoff parks a harvested batch between the harvest and persist
// stages under a well-known key.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aluiziolira/go-harvest-books/config"
	"github.com/aluiziolira/go-harvest-books/models"
)

// DefaultKey is the slot the harvest stage publishes to.
const DefaultKey = "book_data"

// ErrNoDataAvailable is returned by Get when nothing was published under the
// key, or the entry has expired.
var ErrNoDataAvailable = errors.New("no data available")

// Store is a keyed slot holding one batch per key. Delete on a missing key is
// not an error.
type Store interface {
	Put(ctx context.Context, key string, batch models.Batch) error
	Get(ctx context.Context, key string) (models.Batch, error)
	Delete(ctx context.Context, key string) error
}

// New builds the backend selected by cfg.Backend.
func New(cfg config.HandoffConfig, log zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemory(cfg.Capacity, cfg.TTL), nil
	case "file":
		return NewFile(cfg.Dir, cfg.TTL, log)
	default:
		return nil, fmt.Errorf("unknown handoff backend %q", cfg.Backend)
	}
}

func expired(storedAt time.Time, ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(storedAt) > ttl
}
