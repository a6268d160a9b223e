package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aluiziolira/go-harvest-books/models"
)

// Memory keeps batches in a size-bounded LRU whose entries expire after ttl.
// It only hands off within one process.
type Memory struct {
	cache *expirable.LRU[string, models.Batch]
}

// NewMemory returns an in-process store. A ttl of zero keeps entries until
// they are evicted by size.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	if capacity <= 0 {
		capacity = 1
	}
	return &Memory{cache: expirable.NewLRU[string, models.Batch](capacity, nil, ttl)}
}

func (m *Memory) Put(ctx context.Context, key string, batch models.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.cache.Add(key, batch)
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (models.Batch, error) {
	if err := ctx.Err(); err != nil {
		return models.Batch{}, err
	}
	batch, ok := m.cache.Get(key)
	if !ok {
		return models.Batch{}, fmt.Errorf("key %q: %w", key, ErrNoDataAvailable)
	}
	return batch, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.cache.Remove(key)
	return nil
}
