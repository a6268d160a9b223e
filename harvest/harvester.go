package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aluiziolira/go-harvest-books/metrics"
	"github.com/aluiziolira/go-harvest-books/models"
	"github.com/aluiziolira/go-harvest-books/ratelimit"
	"github.com/aluiziolira/go-harvest-books/scraper"
)

// ErrEmptyResult is returned when a session ends without a single record.
var ErrEmptyResult = errors.New("harvest produced no records")

// PageFetcher downloads one result page.
type PageFetcher interface {
	FetchPage(ctx context.Context, query string, page int) (*models.Page, error)
}

// RecordExtractor turns a page into candidate records.
type RecordExtractor interface {
	Extract(page *models.Page) []models.Book
}

// Options configures a Harvester.
type Options struct {
	Query    string
	MaxPages int

	Limiter   ratelimit.Limiter
	Fetcher   PageFetcher
	Extractor RecordExtractor
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Harvester runs sequential harvest sessions against one query.
type Harvester struct {
	query     string
	maxPages  int
	limiter   ratelimit.Limiter
	fetcher   PageFetcher
	extractor RecordExtractor
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

// New validates opts and returns a Harvester.
func New(opts Options) (*Harvester, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("harvest: fetcher is required")
	}
	if opts.Extractor == nil {
		return nil, errors.New("harvest: extractor is required")
	}
	if opts.MaxPages < 1 {
		return nil, fmt.Errorf("harvest: max pages must be at least 1, got %d", opts.MaxPages)
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewJitter(0, 0)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Harvester{
		query:     opts.Query,
		maxPages:  opts.MaxPages,
		limiter:   limiter,
		fetcher:   opts.Fetcher,
		extractor: opts.Extractor,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		now:       now,
	}, nil
}

// Harvest collects up to count unique records, one page at a time.
//
// A session that fails after collecting records still returns them with
// Outcome set to failed and Err holding the fetch error. A session that ends
// empty returns ErrEmptyResult, wrapping the fetch error if there was one.
// Cancellation of ctx discards everything collected so far.
func (h *Harvester) Harvest(ctx context.Context, count int) (*models.HarvestResult, error) {
	if count < 1 {
		return nil, fmt.Errorf("harvest: count must be at least 1, got %d", count)
	}

	s := NewSession(h.query, count, h.maxPages)
	start := h.now()
	h.log.Info().
		Str("query", s.Query).
		Int("target", s.Target).
		Int("max_pages", s.MaxPages).
		Msg("harvest started")

	for !s.State.Terminal() {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		page, err := h.fetcher.FetchPage(ctx, s.Query, s.Page)
		s.Fetched++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.fail(err)
			h.log.Error().
				Err(err).
				Int("page", s.Page).
				Str("error_type", scraper.ErrorType(err)).
				Msg("stopping harvest after fetch failure")
			break
		}

		accepted := 0
		for _, book := range h.extractor.Extract(page) {
			if s.Full() {
				break
			}
			if s.Accept(book) {
				accepted++
				h.metrics.IncAccepted()
			} else {
				h.metrics.IncRejected("duplicate")
			}
		}
		h.log.Info().
			Int("page", s.Page).
			Int("accepted", accepted).
			Int("total", len(s.Records)).
			Msg("page harvested")

		s.advance(accepted)
	}

	outcome := s.State
	h.metrics.IncSession(string(outcome))

	if len(s.Records) == 0 {
		h.log.Warn().Str("outcome", string(outcome)).Int("pages", s.Fetched).Msg("harvest ended empty")
		if s.LastErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmptyResult, s.LastErr)
		}
		return nil, ErrEmptyResult
	}

	s.State = StateDone
	result := &models.HarvestResult{
		Records:   s.Records,
		Outcome:   string(outcome),
		Pages:     s.Fetched,
		Duplicate: s.Duplicates,
		StartTime: start,
		EndTime:   h.now(),
		Err:       s.LastErr,
	}

	event := h.log.Info()
	if outcome == StateFailed {
		event = h.log.Warn().Err(s.LastErr)
	}
	event.
		Str("outcome", result.Outcome).
		Int("records", len(result.Records)).
		Int("pages", result.Pages).
		Int("duplicates", result.Duplicate).
		Dur("elapsed", result.EndTime.Sub(result.StartTime)).
		Msg("harvest finished")

	return result, nil
}
