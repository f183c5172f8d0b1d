package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// extractPDF yields one unit per page so citations can point at page numbers.
func extractPDF(data []byte) ([]unit, error) {
	if len(data) == 0 {
		return nil, nil
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}

	var units []unit
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		units = append(units, unit{text: text, label: fmt.Sprintf("page %d", i)})
	}
	return units, nil
}

// extractCSV yields one unit per record. The header row is folded into every
// row unit as "header: value" pairs so rows stay self-describing after the
// file is shredded into chunks.
func extractCSV(data []byte) ([]unit, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var header []string
	var units []unit
	row := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv row %d: %w", row+1, err)
		}
		row++
		if header == nil {
			header = record
			continue
		}
		units = append(units, unit{
			text:  joinRecord(header, record),
			label: fmt.Sprintf("row %d", row),
		})
	}

	// A header-only (or empty) file still counts as extracted-empty, not
	// an error.
	return units, nil
}

// joinRecord renders a record as "col: value" pairs, positional when the
// header is missing or shorter than the record.
func joinRecord(header, record []string) string {
	parts := make([]string, 0, len(record))
	for i, field := range record {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if i < len(header) && strings.TrimSpace(header[i]) != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", strings.TrimSpace(header[i]), field))
		} else {
			parts = append(parts, field)
		}
	}
	return strings.Join(parts, ", ")
}

// extractText treats the whole body as a single unit.
func extractText(data []byte) ([]unit, error) {
	return []unit{{text: string(data), label: "text"}}, nil
}

// extractSpreadsheet yields one unit per row across all sheets.
func extractSpreadsheet(data []byte) ([]unit, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening spreadsheet: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var units []unit
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
		}

		var header []string
		for i, row := range rows {
			if i == 0 {
				header = row
				continue
			}
			text := joinRecord(header, row)
			if text == "" {
				continue
			}
			units = append(units, unit{
				text:  text,
				label: fmt.Sprintf("%s!row %d", sheet, i+1),
			})
		}
	}
	return units, nil
}
