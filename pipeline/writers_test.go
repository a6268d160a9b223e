package pipeline

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/go-harvest-books/models"
)

func exportBooks() []models.Book {
	return []models.Book{
		{Title: "Streaming Systems", Author: "Tyler Akidau", Price: "41.", Rating: "4.7 out of 5 stars"},
		{Title: "Data Mesh, Second Printing", Author: models.UnknownAuthor, Price: models.NoPrice, Rating: models.NoRating},
	}
}

func TestCSVEncoder(t *testing.T) {
	var buf bytes.Buffer
	if err := (CSVEncoder{}).Encode(&buf, exportBooks()); err != nil {
		t.Fatalf("encode csv: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records=%d, want 3", len(records))
	}
	if got := records[0]; got[0] != "title" || got[1] != "author" || got[2] != "price" || got[3] != "rating" {
		t.Fatalf("unexpected header: %v", got)
	}
	if records[2][0] != "Data Mesh, Second Printing" || records[2][1] != models.UnknownAuthor {
		t.Fatalf("quoted row not preserved: %v", records[2])
	}
}

func TestJSONLEncoder(t *testing.T) {
	var buf bytes.Buffer
	if err := (JSONLEncoder{}).Encode(&buf, exportBooks()); err != nil {
		t.Fatalf("encode jsonl: %v", err)
	}

	var got []models.Book
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var b models.Book
		if err := json.Unmarshal(scanner.Bytes(), &b); err != nil {
			t.Fatalf("decode line %q: %v", scanner.Text(), err)
		}
		got = append(got, b)
	}
	if len(got) != 2 || got[0] != exportBooks()[0] {
		t.Fatalf("unexpected records: %+v", got)
	}
}

func TestEncoderFor(t *testing.T) {
	tests := []struct {
		file    string
		want    Encoder
		wantErr bool
	}{
		{file: "out.csv", want: CSVEncoder{}},
		{file: "out.jsonl", want: JSONLEncoder{}},
		{file: "OUT.JSON", want: JSONLEncoder{}},
		{file: "out.xml", wantErr: true},
		{file: "out", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got, err := EncoderFor(tt.file)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncoderFor(%q) error = %v, wantErr %v", tt.file, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("EncoderFor(%q) = %T, want %T", tt.file, got, tt.want)
			}
		})
	}
}

func TestExportBatchCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export", "nested", "books.csv")

	if err := ExportBatch(path, &models.Batch{Records: exportBooks()}); err != nil {
		t.Fatalf("export: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("export file missing: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("export file is empty")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the export file, found %d entries", len(entries))
	}
}

func TestExportBatchReplacesPreviousFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.jsonl")

	if err := ExportBatch(path, &models.Batch{Records: exportBooks()}); err != nil {
		t.Fatalf("first export: %v", err)
	}
	if err := ExportBatch(path, &models.Batch{Records: exportBooks()[:1]}); err != nil {
		t.Fatalf("second export: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if lines := bytes.Count(data, []byte("\n")); lines != 1 {
		t.Fatalf("lines=%d, want 1", lines)
	}
}

func TestExportBatchUnsupportedFormatWritesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "books.xml")

	if err := ExportBatch(path, &models.Batch{Records: exportBooks()}); err == nil {
		t.Fatal("expected unsupported format error")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, found %d entries", len(entries))
	}
}
