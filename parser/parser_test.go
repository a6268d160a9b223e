package parser

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/aluiziolira/go-harvest-books/config"
	"github.com/aluiziolira/go-harvest-books/metrics"
	"github.com/aluiziolira/go-harvest-books/models"
)

const listingPage = `<html><body>
<div data-component-type="s-search-result">
  <h2 class="a-size-mini"><a><span>  Designing Data-Intensive Applications </span></a></h2>
  <a class="a-size-base">Martin Kleppmann</a>
  <span class="a-price"><span class="a-offscreen">$39.99</span><span class="a-price-whole">39.</span></span>
  <span class="a-icon-alt">4.8 out of 5 stars</span>
</div>
<div data-component-type="s-search-result">
  <span class="a-text-normal">Fundamentals of Data Engineering</span>
  <span class="a-size-base">Joe Reis</span>
  <span class="a-offscreen">$45.00</span>
  <i class="a-icon a-star-small-4" aria-label="4.6 out of 5 stars"></i>
</div>
<div data-component-type="s-search-result">
  <h2 class="a-size-mini">  Go  </h2>
</div>
<div data-component-type="s-search-result">
  <h2 class="a-size-mini">The Data Warehouse Toolkit</h2>
</div>
<div data-component-type="s-search-result">
  <span class="a-price-whole">12.</span>
</div>
</body></html>`

func newTestExtractor() (*Extractor, *metrics.Metrics) {
	m := metrics.New()
	return NewExtractor(config.DefaultSelectors(), m, zerolog.Nop()), m
}

func TestValidateBook(t *testing.T) {
	tests := []struct {
		name    string
		book    *models.Book
		wantErr bool
	}{
		{name: "valid book", book: &models.Book{Title: "Data Pipelines Pocket Reference"}},
		{name: "three runes", book: &models.Book{Title: "Ίλη"}},
		{name: "nil book", book: nil, wantErr: true},
		{name: "missing title", book: &models.Book{Title: "   "}, wantErr: true},
		{name: "short title", book: &models.Book{Title: " Go "}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBook(tt.book)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateBook() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtractListing(t *testing.T) {
	x, m := newTestExtractor()

	books := x.Extract(&models.Page{Number: 1, Body: []byte(listingPage)})

	want := []models.Book{
		{Title: "Designing Data-Intensive Applications", Author: "Martin Kleppmann", Price: "39.", Rating: "4.8 out of 5 stars"},
		{Title: "Fundamentals of Data Engineering", Author: "Joe Reis", Price: "$45.00", Rating: "4.6 out of 5 stars"},
		{Title: "The Data Warehouse Toolkit", Author: models.UnknownAuthor, Price: models.NoPrice, Rating: models.NoRating},
	}
	if len(books) != len(want) {
		t.Fatalf("got %d books, want %d: %+v", len(books), len(want), books)
	}
	for i := range want {
		if books[i] != want[i] {
			t.Errorf("book %d = %+v, want %+v", i, books[i], want[i])
		}
	}

	if got := testutil.ToFloat64(m.BlocksTotal); got != 5 {
		t.Errorf("blocks = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.RejectedTotal.WithLabelValues("invalid_title")); got != 2 {
		t.Errorf("rejected = %v, want 2", got)
	}
}

func TestExtractNoBlocks(t *testing.T) {
	x, _ := newTestExtractor()

	tests := []struct {
		name string
		page *models.Page
	}{
		{name: "nil page"},
		{name: "empty body", page: &models.Page{Number: 3}},
		{name: "no result blocks", page: &models.Page{Number: 3, Body: []byte(`<html><body><p>No results</p></body></html>`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if books := x.Extract(tt.page); len(books) != 0 {
				t.Fatalf("expected no books, got %+v", books)
			}
		})
	}
}

func TestExtractLocatorOrder(t *testing.T) {
	sel := config.DefaultSelectors()
	sel.Price = []config.Locator{
		{Selector: "span.missing"},
		{Selector: "span.a-offscreen"},
		{Selector: "span.a-price-whole"},
	}
	x := NewExtractor(sel, nil, zerolog.Nop())

	books := x.Extract(&models.Page{Number: 1, Body: []byte(listingPage)})
	if len(books) == 0 {
		t.Fatal("expected books")
	}
	if books[0].Price != "$39.99" {
		t.Fatalf("price = %q, want first matching locator", books[0].Price)
	}
}

func TestExtractBlockRecoversPanic(t *testing.T) {
	x, _ := newTestExtractor()

	book, err := x.extractBlock(nil)
	if err == nil {
		t.Fatal("expected error from nil block")
	}
	if book != nil {
		t.Fatalf("expected no book, got %+v", book)
	}
}

func TestParseError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&ParseError{Page: 1, Block: 2, Err: cause})

	if !errors.Is(err, cause) {
		t.Fatal("ParseError should unwrap to its cause")
	}
	if got, want := err.Error(), "parse page 1 block 2: boom"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
