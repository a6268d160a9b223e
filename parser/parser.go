package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aluiziolira/go-harvest-books/models"
)

// ValidateBook ensures an extracted record can be accepted.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	title := NormalizeTitle(b.Title)
	if title == "" {
		return fmt.Errorf("book missing title")
	}
	if utf8.RuneCountInString(title) < models.MinTitleLength {
		return fmt.Errorf("book title %q shorter than %d characters", title, models.MinTitleLength)
	}
	return nil
}

// NormalizeTitle trims surrounding whitespace. Case is preserved.
func NormalizeTitle(title string) string {
	return strings.TrimSpace(title)
}

// orDefault returns the trimmed value or fallback when it is empty.
func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
