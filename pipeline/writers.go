package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-harvest-books/models"
)

var csvHeader = []string{"title", "author", "price", "rating"}

// Encoder renders a batch of books into an export format.
type Encoder interface {
	Encode(w io.Writer, books []models.Book) error
}

// EncoderFor picks the export encoder from the file extension.
func EncoderFor(filename string) (Encoder, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".csv":
		return CSVEncoder{}, nil
	case ".json", ".jsonl":
		return JSONLEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", ext)
	}
}

// CSVEncoder writes a header row followed by one row per book.
type CSVEncoder struct{}

func (CSVEncoder) Encode(w io.Writer, books []models.Book) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, book := range books {
		if err := cw.Write([]string{book.Title, book.Author, book.Price, book.Rating}); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// JSONLEncoder writes one JSON object per line.
type JSONLEncoder struct{}

func (JSONLEncoder) Encode(w io.Writer, books []models.Book) error {
	enc := json.NewEncoder(w)
	for _, book := range books {
		if err := enc.Encode(book); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	return nil
}

// ExportBatch writes the batch records to filename. The file is written next
// to its destination and renamed into place, so readers never see a partial
// export.
func ExportBatch(filename string, batch *models.Batch) error {
	enc, err := EncoderFor(filename)
	if err != nil {
		return err
	}
	if err := ensureDir(filename); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(filename), ".export-*")
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err := enc.Encode(buf, batch.Records); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("flush export file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("move export file into place: %w", err)
	}
	committed = true
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
