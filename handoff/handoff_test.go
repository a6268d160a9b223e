package handoff

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-harvest-books/config"
	"github.com/aluiziolira/go-harvest-books/models"
)

func sampleBatch() models.Batch {
	return models.Batch{
		Query: "data engineering books",
		Records: []models.Book{
			{Title: "Streaming Systems", Author: "Tyler Akidau", Price: "41.", Rating: "4.7 out of 5 stars"},
			{Title: "Data Mesh", Author: models.UnknownAuthor, Price: models.NoPrice, Rating: models.NoRating},
		},
		Outcome:     "target_reached",
		Pages:       1,
		HarvestedAt: time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC),
	}
}

func TestStores(t *testing.T) {
	file, err := NewFile(t.TempDir(), time.Hour, zerolog.Nop())
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemory(4, time.Hour),
		"file":   file,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, DefaultKey)
			require.ErrorIs(t, err, ErrNoDataAvailable)

			require.NoError(t, store.Put(ctx, DefaultKey, sampleBatch()))
			got, err := store.Get(ctx, DefaultKey)
			require.NoError(t, err)
			assert.Equal(t, sampleBatch(), got)

			replacement := sampleBatch()
			replacement.Records = replacement.Records[:1]
			require.NoError(t, store.Put(ctx, DefaultKey, replacement))
			got, err = store.Get(ctx, DefaultKey)
			require.NoError(t, err)
			assert.Len(t, got.Records, 1)

			_, err = store.Get(ctx, "other_key")
			assert.ErrorIs(t, err, ErrNoDataAvailable)

			require.NoError(t, store.Delete(ctx, DefaultKey))
			_, err = store.Get(ctx, DefaultKey)
			assert.ErrorIs(t, err, ErrNoDataAvailable)
			assert.NoError(t, store.Delete(ctx, DefaultKey), "deleting a missing key")
		})
	}
}

func TestFileEntryExpires(t *testing.T) {
	ctx := context.Background()
	f, err := NewFile(t.TempDir(), time.Hour, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }
	require.NoError(t, f.Put(ctx, DefaultKey, sampleBatch()))

	now = now.Add(59 * time.Minute)
	_, err = f.Get(ctx, DefaultKey)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = f.Get(ctx, DefaultKey)
	assert.ErrorIs(t, err, ErrNoDataAvailable)
}

func TestFilePutLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, 0, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, f.Put(context.Background(), DefaultKey, sampleBatch()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, DefaultKey+".json", entries[0].Name())
}

func TestFileRejectsPathKeys(t *testing.T) {
	f, err := NewFile(t.TempDir(), 0, zerolog.Nop())
	require.NoError(t, err)

	err = f.Put(context.Background(), "../escape", sampleBatch())
	assert.Error(t, err)
}

func TestFileCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, 0, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultKey+".json"), []byte("{not json"), 0o644))

	_, err = f.Get(context.Background(), DefaultKey)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoDataAvailable)
}

func TestMemoryEvictsOldest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1, 0)

	require.NoError(t, m.Put(ctx, "first", sampleBatch()))
	require.NoError(t, m.Put(ctx, "second", sampleBatch()))

	_, err := m.Get(ctx, "first")
	assert.ErrorIs(t, err, ErrNoDataAvailable)
	_, err = m.Get(ctx, "second")
	assert.NoError(t, err)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemory(1, 0)
	assert.ErrorIs(t, m.Put(ctx, DefaultKey, sampleBatch()), context.Canceled)
	_, err := m.Get(ctx, DefaultKey)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	cfg := config.DefaultConfig().Handoff

	cfg.Backend = "memory"
	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	cfg.Backend = "file"
	cfg.Dir = filepath.Join(t.TempDir(), "nested", "handoff")
	s, err = New(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &File{}, s)
	assert.DirExists(t, cfg.Dir)

	cfg.Backend = "redis"
	_, err = New(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestFileDeleteRemovesDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f, err := NewFile(dir, 0, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, f.Put(ctx, DefaultKey, sampleBatch()))
	assert.FileExists(t, filepath.Join(dir, DefaultKey+".json"))

	require.NoError(t, f.Delete(ctx, DefaultKey))
	assert.NoFileExists(t, filepath.Join(dir, DefaultKey+".json"))
	assert.Error(t, f.Delete(ctx, "../escape"))
}
