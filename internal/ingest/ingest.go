// Package ingest turns raw uploaded files into normalized, overlapping text
// chunks ready for embedding.
//
// The pipeline is side-effect free: it never touches the vector index. Each
// produced Chunk carries provenance metadata (file name, page or row label,
// chunk index) so answers can cite their sources.
package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Sentinel errors. Check with errors.Is.
var (
	// ErrUnsupportedFormat indicates the declared file type is not one of
	// the supported formats. Nothing is ingested in that case.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrIngestion indicates the file could not be read or parsed. The
	// underlying cause is wrapped alongside it.
	ErrIngestion = errors.New("ingestion failed")
)

// Format identifies a supported input file type.
type Format string

// Supported formats.
const (
	FormatPDF         Format = "pdf"
	FormatCSV         Format = "csv"
	FormatText        Format = "text"
	FormatSpreadsheet Format = "spreadsheet"
)

// Metadata keys attached to every chunk.
const (
	MetaFileName = "file_name"
	MetaSource   = "source" // "page 3", "row 12", "Sheet1!row 4", "text"
	MetaChunk    = "chunk"  // chunk index within the source unit
)

// Chunk is a bounded span of normalized text with provenance metadata.
// Chunks are immutable once produced; re-ingesting a file yields new chunks.
type Chunk struct {
	Content  string
	Metadata map[string]string
}

// DetectFormat maps a file name's extension to a Format.
// Returns ErrUnsupportedFormat for anything outside the supported set.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FormatPDF, nil
	case ".csv":
		return FormatCSV, nil
	case ".txt", ".md", ".text":
		return FormatText, nil
	// Legacy .xls (OLE2) is not supported; only OOXML workbooks parse.
	case ".xlsx":
		return FormatSpreadsheet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// Options tunes the chunking behavior. Retrieval quality depends on these,
// so they are configuration, not constants.
type Options struct {
	// ChunkSize is the target window size in runes. Default 1000.
	ChunkSize int

	// ChunkOverlap is the number of runes carried over between adjacent
	// windows. Default 200. Must be smaller than ChunkSize.
	ChunkOverlap int
}

// Pipeline converts file bytes into chunks.
type Pipeline struct {
	chunkSize    int
	chunkOverlap int
}

// NewPipeline creates a Pipeline. Zero or invalid option values fall back to
// the defaults (1000/200).
func NewPipeline(opts Options) *Pipeline {
	size := opts.ChunkSize
	if size <= 0 {
		size = 1000
	}
	overlap := opts.ChunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = 200
		if overlap >= size {
			overlap = size / 5
		}
	}
	return &Pipeline{chunkSize: size, chunkOverlap: overlap}
}

// unit is one extracted region of text with a human-readable source label.
// PDF pages, CSV rows, and spreadsheet rows each map to one unit.
type unit struct {
	text  string
	label string
}

// Ingest extracts text from data according to the declared format and splits
// it into overlapping chunks tagged with provenance metadata.
//
// A file whose extracted text is empty yields zero chunks and no error:
// whether that is a user-facing problem is the caller's call. Corrupt input
// returns an error wrapping ErrIngestion.
func (p *Pipeline) Ingest(data []byte, filename string, format Format) ([]Chunk, error) {
	var (
		units []unit
		err   error
	)
	switch format {
	case FormatPDF:
		units, err = extractPDF(data)
	case FormatCSV:
		units, err = extractCSV(data)
	case FormatText:
		units, err = extractText(data)
	case FormatSpreadsheet:
		units, err = extractSpreadsheet(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrIngestion, filename, err)
	}

	chunks := make([]Chunk, 0, len(units))
	for _, u := range units {
		text := normalize(u.text)
		if text == "" {
			continue
		}
		for i, window := range splitText(text, p.chunkSize, p.chunkOverlap) {
			chunks = append(chunks, Chunk{
				Content: window,
				Metadata: map[string]string{
					MetaFileName: filename,
					MetaSource:   u.label,
					MetaChunk:    fmt.Sprintf("%d", i),
				},
			})
		}
	}
	return chunks, nil
}

// normalize collapses runs of whitespace into single spaces, keeping
// paragraph breaks as newlines so chunk boundaries stay readable.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lines := strings.Split(s, "\n")
	wrote := false
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if wrote {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(fields, " "))
		wrote = true
	}
	return b.String()
}
