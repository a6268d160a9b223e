// Package parser turns fetched result pages into candidate book records.
package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/aluiziolira/go-harvest-books/config"
	"github.com/aluiziolira/go-harvest-books/metrics"
	"github.com/aluiziolira/go-harvest-books/models"
)

// ParseError reports a result block that could not be read. It is recovered
// inside Extract and never aborts a page.
type ParseError struct {
	Page  int
	Block int
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse page %d block %d: %v", e.Page, e.Block, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Extractor reads result blocks with ordered fallback locators per field.
type Extractor struct {
	selectors config.SelectorConfig
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewExtractor builds an extractor for the given selector set.
func NewExtractor(selectors config.SelectorConfig, m *metrics.Metrics, log zerolog.Logger) *Extractor {
	return &Extractor{
		selectors: selectors,
		metrics:   m,
		log:       log,
	}
}

// Extract returns the valid records on page in block order. A page without
// result blocks yields an empty slice.
func (x *Extractor) Extract(page *models.Page) []models.Book {
	if page == nil || len(page.Body) == 0 {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		x.log.Warn().Err(err).Int("page", page.Number).Msg("unreadable page")
		return nil
	}

	blocks := doc.Find(x.selectors.Block)
	x.metrics.AddBlocks(blocks.Length())
	if blocks.Length() == 0 {
		x.log.Warn().Int("page", page.Number).Msg("no result blocks found")
		return nil
	}

	books := make([]models.Book, 0, blocks.Length())
	blocks.Each(func(i int, block *goquery.Selection) {
		book, err := x.extractBlock(block)
		if err != nil {
			pe := &ParseError{Page: page.Number, Block: i, Err: err}
			x.metrics.IncRejected("parse_error")
			x.log.Warn().Err(pe).Msg("skipping result block")
			return
		}
		if err := ValidateBook(book); err != nil {
			x.metrics.IncRejected("invalid_title")
			x.log.Debug().Err(err).Int("page", page.Number).Int("block", i).Msg("rejected result block")
			return
		}
		books = append(books, *book)
	})

	x.log.Debug().
		Int("page", page.Number).
		Int("blocks", blocks.Length()).
		Int("records", len(books)).
		Msg("page extracted")
	return books
}

func (x *Extractor) extractBlock(block *goquery.Selection) (book *models.Book, err error) {
	defer func() {
		if r := recover(); r != nil {
			book = nil
			err = fmt.Errorf("panic while reading block: %v", r)
		}
	}()

	return &models.Book{
		Title:  NormalizeTitle(resolve(block, x.selectors.Title)),
		Author: orDefault(resolve(block, x.selectors.Author), models.UnknownAuthor),
		Price:  orDefault(resolve(block, x.selectors.Price), models.NoPrice),
		Rating: orDefault(resolve(block, x.selectors.Rating), models.NoRating),
	}, nil
}

// resolve tries each locator in order and returns the first non-empty value.
func resolve(block *goquery.Selection, chain []config.Locator) string {
	for _, loc := range chain {
		if v := locate(block, loc); v != "" {
			return v
		}
	}
	return ""
}

func locate(block *goquery.Selection, loc config.Locator) string {
	if loc.Selector == "" {
		return ""
	}
	sel := block.Find(loc.Selector).First()
	if sel.Length() == 0 {
		return ""
	}
	if loc.Attr != "" {
		v, _ := sel.Attr(loc.Attr)
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(sel.Text())
}
