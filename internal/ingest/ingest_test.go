package ingest

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     Format
		wantErr  bool
	}{
		{name: "pdf", filename: "report.pdf", want: FormatPDF},
		{name: "pdf uppercase", filename: "REPORT.PDF", want: FormatPDF},
		{name: "csv", filename: "data.csv", want: FormatCSV},
		{name: "txt", filename: "notes.txt", want: FormatText},
		{name: "markdown", filename: "readme.md", want: FormatText},
		{name: "xlsx", filename: "sheet.xlsx", want: FormatSpreadsheet},
		{name: "legacy xls", filename: "old.xls", wantErr: true},
		{name: "unsupported", filename: "image.png", wantErr: true},
		{name: "no extension", filename: "Makefile", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(tt.filename)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Fatalf("DetectFormat(%q) error = %v, want ErrUnsupportedFormat", tt.filename, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DetectFormat(%q) unexpected error: %v", tt.filename, err)
			}
			if got != tt.want {
				t.Errorf("DetectFormat(%q) = %v, want %v", tt.filename, got, tt.want)
			}
		})
	}
}

func TestIngestText(t *testing.T) {
	p := NewPipeline(Options{ChunkSize: 50, ChunkOverlap: 10})

	chunks, err := p.Ingest([]byte("The quick brown fox jumps over the lazy dog. Again and again and again, it jumps."), "notes.txt", FormatText)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks for text longer than chunk size, got %d", len(chunks))
	}
	for i, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			t.Errorf("chunk %d is empty", i)
		}
		if c.Metadata[MetaFileName] != "notes.txt" {
			t.Errorf("chunk %d file_name = %q, want notes.txt", i, c.Metadata[MetaFileName])
		}
		if c.Metadata[MetaChunk] == "" {
			t.Errorf("chunk %d has no chunk index", i)
		}
	}
}

func TestIngestTextOverlap(t *testing.T) {
	p := NewPipeline(Options{ChunkSize: 20, ChunkOverlap: 5})

	long := strings.Repeat("abcdefghij", 10)
	chunks, err := p.Ingest([]byte(long), "big.txt", FormatText)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Content
		tail := prev[len(prev)-5:]
		if !strings.HasPrefix(chunks[i].Content, tail) {
			t.Errorf("chunk %d does not start with previous chunk's tail %q: %q", i, tail, chunks[i].Content)
		}
	}
}

func TestIngestEmptyFile(t *testing.T) {
	p := NewPipeline(Options{})

	for _, format := range []Format{FormatText, FormatCSV} {
		chunks, err := p.Ingest(nil, "empty", format)
		if err != nil {
			t.Fatalf("Ingest(empty, %v) error: %v", format, err)
		}
		if len(chunks) != 0 {
			t.Errorf("Ingest(empty, %v) = %d chunks, want 0", format, len(chunks))
		}
	}
}

func TestIngestWhitespaceOnly(t *testing.T) {
	p := NewPipeline(Options{})

	chunks, err := p.Ingest([]byte("   \n\t  \n"), "blank.txt", FormatText)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected 0 chunks for whitespace-only file, got %d", len(chunks))
	}
}

func TestIngestCSV(t *testing.T) {
	csv := "name,role\nalice,engineer\nbob,designer\n"
	p := NewPipeline(Options{})

	chunks, err := p.Ingest([]byte(csv), "people.csv", FormatCSV)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected chunks for non-empty CSV")
	}

	// Header columns must be folded into each row's text.
	joined := ""
	for _, c := range chunks {
		joined += c.Content + "\n"
	}
	for _, want := range []string{"name: alice", "role: engineer", "name: bob", "role: designer"} {
		if !strings.Contains(joined, want) {
			t.Errorf("chunks missing %q:\n%s", want, joined)
		}
	}
}

func TestIngestCSVHeaderOnly(t *testing.T) {
	p := NewPipeline(Options{})

	chunks, err := p.Ingest([]byte("name,role\n"), "empty.csv", FormatCSV)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected 0 chunks for header-only CSV, got %d", len(chunks))
	}
}

func TestIngestCSVRaggedRows(t *testing.T) {
	csv := "a,b,c\n1,2\n3,4,5,6\n"
	p := NewPipeline(Options{})

	chunks, err := p.Ingest([]byte(csv), "ragged.csv", FormatCSV)
	if err != nil {
		t.Fatalf("Ingest() error for ragged rows: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected chunks for ragged CSV")
	}
}

func TestIngestCorruptPDF(t *testing.T) {
	p := NewPipeline(Options{})

	_, err := p.Ingest([]byte("this is not a pdf"), "fake.pdf", FormatPDF)
	if !errors.Is(err, ErrIngestion) {
		t.Fatalf("Ingest(corrupt pdf) error = %v, want ErrIngestion", err)
	}
}

func TestIngestSpreadsheet(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"product", "price"},
		{"widget", 9.99},
		{"gadget", 19.99},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatal(err)
	}

	p := NewPipeline(Options{})
	chunks, err := p.Ingest(buf.Bytes(), "products.xlsx", FormatSpreadsheet)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected chunks for spreadsheet with data")
	}

	joined := ""
	for _, c := range chunks {
		joined += c.Content + "\n"
	}
	for _, want := range []string{"widget", "gadget"} {
		if !strings.Contains(joined, want) {
			t.Errorf("chunks missing %q:\n%s", want, joined)
		}
	}
}

func TestIngestCorruptSpreadsheet(t *testing.T) {
	p := NewPipeline(Options{})

	_, err := p.Ingest([]byte("not a spreadsheet"), "fake.xlsx", FormatSpreadsheet)
	if !errors.Is(err, ErrIngestion) {
		t.Fatalf("Ingest(corrupt xlsx) error = %v, want ErrIngestion", err)
	}
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		chunkSize int
		overlap   int
		wantLen   int
	}{
		{name: "short text single chunk", text: "hello", chunkSize: 100, overlap: 10, wantLen: 1},
		{name: "exact fit", text: strings.Repeat("a", 100), chunkSize: 100, overlap: 10, wantLen: 1},
		{name: "empty", text: "", chunkSize: 100, overlap: 10, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitText(tt.text, tt.chunkSize, tt.overlap)
			if len(got) != tt.wantLen {
				t.Errorf("splitText() = %d chunks, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestSplitTextMultibyte(t *testing.T) {
	text := strings.Repeat("測試中文字元切割", 20)
	chunks := splitText(text, 30, 5)
	for i, c := range chunks {
		if !strings.HasPrefix(text, "測") {
			t.Fatal("sanity check failed")
		}
		for _, r := range c {
			if r == '\uFFFD' {
				t.Errorf("chunk %d contains replacement character, rune boundary was split", i)
			}
		}
	}
}

func TestNormalize(t *testing.T) {
	got := normalize("hello   world\n\n\nnext  line\t\tend")
	if strings.Contains(got, "  ") {
		t.Errorf("normalize left double spaces: %q", got)
	}
	if !strings.Contains(got, "hello world") {
		t.Errorf("normalize mangled text: %q", got)
	}
}
