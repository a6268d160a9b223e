package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/aluiziolira/go-harvest-books/models"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

type envelope struct {
	Key      string       `json:"key"`
	StoredAt time.Time    `json:"stored_at"`
	Batch    models.Batch `json:"batch"`
}

// File stores each key as a JSON document in dir, so separate harvest and
// persist processes can share a slot.
type File struct {
	dir string
	ttl time.Duration
	now func() time.Time
	log zerolog.Logger
}

// NewFile creates dir if needed.
func NewFile(dir string, ttl time.Duration, log zerolog.Logger) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create handoff dir: %w", err)
	}
	return &File{dir: dir, ttl: ttl, now: time.Now, log: log}, nil
}

func (f *File) path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid handoff key %q", key)
	}
	return filepath.Join(f.dir, key+".json"), nil
}

// Put replaces the document for key atomically.
func (f *File) Put(ctx context.Context, key string, batch models.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := f.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp handoff file: %w", err)
	}
	tempPath := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(envelope{Key: key, StoredAt: f.now().UTC(), Batch: batch}); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("encode handoff batch: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("sync handoff file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close handoff file: %w", err)
	}
	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("replace handoff file: %w", err)
	}

	f.log.Debug().Str("key", key).Int("records", len(batch.Records)).Str("path", target).Msg("batch published")
	return nil
}

// Get reads the document for key. Missing and expired entries report
// ErrNoDataAvailable.
func (f *File) Get(ctx context.Context, key string) (models.Batch, error) {
	if err := ctx.Err(); err != nil {
		return models.Batch{}, err
	}
	target, err := f.path(key)
	if err != nil {
		return models.Batch{}, err
	}

	data, err := os.ReadFile(target)
	if errors.Is(err, os.ErrNotExist) {
		return models.Batch{}, fmt.Errorf("key %q: %w", key, ErrNoDataAvailable)
	}
	if err != nil {
		return models.Batch{}, fmt.Errorf("read handoff file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return models.Batch{}, fmt.Errorf("decode handoff file: %w", err)
	}
	if expired(env.StoredAt, f.ttl, f.now()) {
		f.log.Warn().Str("key", key).Time("stored_at", env.StoredAt).Msg("handoff entry expired")
		return models.Batch{}, fmt.Errorf("key %q expired: %w", key, ErrNoDataAvailable)
	}
	return env.Batch, nil
}

// Delete removes the document for key.
func (f *File) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove handoff file: %w", err)
	}
	return nil
}
