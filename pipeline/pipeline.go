// Package pipeline runs the ensure-schema, harvest and persist stages in
// order, handing the harvested batch over through a keyed slot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aluiziolira/go-harvest-books/handoff"
	"github.com/aluiziolira/go-harvest-books/metrics"
	"github.com/aluiziolira/go-harvest-books/models"
	"github.com/aluiziolira/go-harvest-books/ratelimit"
	"github.com/aluiziolira/go-harvest-books/scraper"
	"github.com/aluiziolira/go-harvest-books/storage"
)

// Stage names a unit of work the runner can retry.
type Stage string

const (
	StageEnsureSchema Stage = "ensure_schema"
	StageHarvest      Stage = "harvest"
	StagePersist      Stage = "persist"
)

// ErrNotConfigured is returned when a stage is run without the component it needs.
var ErrNotConfigured = errors.New("pipeline: component not configured")

// Harvester collects a batch of records.
type Harvester interface {
	Harvest(ctx context.Context, count int) (*models.HarvestResult, error)
}

// RetryPolicy controls stage-level retries. Delays double per attempt from
// Backoff up to BackoffMax.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	BackoffMax time.Duration
}

// Options wires a Runner. Components a caller never runs may be left nil.
type Options struct {
	Harvester Harvester
	Store     storage.Store
	Handoff   handoff.Store

	Query      string
	Key        string
	ExportFile string
	Retry      RetryPolicy

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Runner executes pipeline stages.
type Runner struct {
	harvester Harvester
	store     storage.Store
	handoff   handoff.Store

	query      string
	key        string
	exportFile string
	retry      RetryPolicy

	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Summary describes a full run.
type Summary struct {
	Batch     *models.Batch
	Persisted int
}

// NewRunner builds a runner from opts.
func NewRunner(opts Options) *Runner {
	key := opts.Key
	if key == "" {
		key = handoff.DefaultKey
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		harvester:  opts.Harvester,
		store:      opts.Store,
		handoff:    opts.Handoff,
		query:      opts.Query,
		key:        key,
		exportFile: opts.ExportFile,
		retry:      opts.Retry,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		now:        now,
		sleep:      ratelimit.Sleep,
	}
}

// EnsureSchema creates the books table if needed.
func (r *Runner) EnsureSchema(ctx context.Context) error {
	if r.store == nil {
		return fmt.Errorf("%s: store: %w", StageEnsureSchema, ErrNotConfigured)
	}
	return r.stage(ctx, StageEnsureSchema, r.store.EnsureSchema)
}

// Harvest collects up to count records and publishes them under the handoff
// key. Any batch left under the key by an earlier run is cleared first, so a
// failed harvest leaves nothing for Persist. A configured export file
// receives a copy of the batch.
func (r *Runner) Harvest(ctx context.Context, count int) (*models.Batch, error) {
	if r.harvester == nil || r.handoff == nil {
		return nil, fmt.Errorf("%s: harvester and handoff: %w", StageHarvest, ErrNotConfigured)
	}
	if count < 1 {
		return nil, fmt.Errorf("%s: count must be at least 1, got %d", StageHarvest, count)
	}

	var batch *models.Batch
	err := r.stage(ctx, StageHarvest, func(ctx context.Context) error {
		if err := r.handoff.Delete(ctx, r.key); err != nil {
			return fmt.Errorf("clear previous batch: %w", err)
		}
		result, err := r.harvester.Harvest(ctx, count)
		if err != nil {
			return err
		}
		b := models.Batch{
			Query:       r.query,
			Records:     result.Records,
			Outcome:     result.Outcome,
			Pages:       result.Pages,
			HarvestedAt: r.now().UTC(),
		}
		if err := r.handoff.Put(ctx, r.key, b); err != nil {
			return fmt.Errorf("publish batch: %w", err)
		}
		batch = &b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if r.exportFile != "" {
		if err := ExportBatch(r.exportFile, batch); err != nil {
			r.log.Error().Err(err).Str("file", r.exportFile).Msg("batch export failed")
		} else {
			r.log.Info().Str("file", r.exportFile).Int("records", len(batch.Records)).Msg("batch exported")
		}
	}
	return batch, nil
}

// Persist reads the published batch and upserts it. A missing batch fails
// with handoff.ErrNoDataAvailable before any transaction starts. The batch is
// consumed once it has been written.
func (r *Runner) Persist(ctx context.Context) (int, error) {
	if r.store == nil || r.handoff == nil {
		return 0, fmt.Errorf("%s: store and handoff: %w", StagePersist, ErrNotConfigured)
	}

	var persisted int
	err := r.stage(ctx, StagePersist, func(ctx context.Context) error {
		batch, err := r.handoff.Get(ctx, r.key)
		if err != nil {
			return err
		}
		if len(batch.Records) == 0 {
			return fmt.Errorf("empty batch under %q: %w", r.key, handoff.ErrNoDataAvailable)
		}
		n, err := r.store.Upsert(ctx, batch.Records)
		if err != nil {
			return err
		}
		persisted = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.metrics.AddPersisted(persisted)

	if err := r.handoff.Delete(ctx, r.key); err != nil {
		r.log.Warn().Err(err).Str("key", r.key).Msg("persisted batch not cleared")
	}
	return persisted, nil
}

// Run executes EnsureSchema, Harvest and Persist in order. Persist is never
// attempted after a failed harvest.
func (r *Runner) Run(ctx context.Context, count int) (*Summary, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	batch, err := r.Harvest(ctx, count)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Batch: batch}
	n, err := r.Persist(ctx)
	if err != nil {
		return summary, err
	}
	summary.Persisted = n
	return summary, nil
}

func (r *Runner) stage(ctx context.Context, name Stage, fn func(context.Context) error) error {
	start := r.now()
	log := r.log.With().Str("stage", string(name)).Logger()
	log.Info().Msg("stage started")

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || attempt > r.retry.MaxRetries || ctx.Err() != nil || !retryable(err) {
			break
		}

		delay := r.backoff(attempt)
		r.metrics.IncStageRetry(string(name))
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("stage failed, retrying")
		if serr := r.sleep(ctx, delay); serr != nil {
			err = serr
			break
		}
	}

	elapsed := r.now().Sub(start)
	if err != nil {
		r.metrics.ObserveStage(string(name), "error", elapsed)
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("stage failed")
		return fmt.Errorf("%s: %w", name, err)
	}
	r.metrics.ObserveStage(string(name), "ok", elapsed)
	log.Info().Dur("elapsed", elapsed).Msg("stage finished")
	return nil
}

func (r *Runner) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := r.retry.Backoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := r.retry.BackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func retryable(err error) bool {
	if errors.Is(err, handoff.ErrNoDataAvailable) || errors.Is(err, ErrNotConfigured) {
		return false
	}
	var pe *storage.PersistError
	if errors.As(err, &pe) && pe.Op == "validate" {
		return false
	}
	var fe *scraper.FetchError
	if errors.As(err, &fe) {
		return fe.Temporary()
	}
	return true
}
