// Package models defines data structures shared by the harvester stages.
package models

import "time"

// Sentinel values substituted when a field cannot be resolved from a result block.
const (
	UnknownAuthor = "Unknown"
	NoPrice       = "N/A"
	NoRating      = "No rating"
)

// MinTitleLength is the shortest trimmed title accepted as a record.
const MinTitleLength = 3

// Book is a candidate record parsed from one result block. Price and rating
// are kept as the raw display strings found on the page.
type Book struct {
	Title  string `csv:"title" json:"title"`
	Author string `csv:"author" json:"author"`
	Price  string `csv:"price" json:"price"`
	Rating string `csv:"rating" json:"rating"`
}

// BookRow is a persisted book.
type BookRow struct {
	ID        int64
	Title     string
	Authors   string
	Price     string
	Rating    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Batch is the collection handed from the harvest stage to the persist stage.
type Batch struct {
	Query       string    `json:"query"`
	Records     []Book    `json:"records"`
	Outcome     string    `json:"outcome"`
	Pages       int       `json:"pages"`
	HarvestedAt time.Time `json:"harvested_at"`
}

// HarvestResult summarises one harvest session.
type HarvestResult struct {
	Records   []Book
	Outcome   string
	Pages     int
	Duplicate int
	StartTime time.Time
	EndTime   time.Time
	// Err holds the fetch error that ended a session which still produced records.
	Err error
}

// Page is the raw content of one fetched result page.
type Page struct {
	Number     int
	URL        string
	StatusCode int
	Body       []byte
}
