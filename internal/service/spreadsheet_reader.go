package service

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/badal-health/risk-server/internal/domain"
)

// SpreadsheetReader reads the header row of uploaded genetic data files.
type SpreadsheetReader struct{}

// NewSpreadsheetReader creates a new spreadsheet reader
func NewSpreadsheetReader() *SpreadsheetReader {
	return &SpreadsheetReader{}
}

// SupportedSpreadsheetExtensions lists the accepted upload extensions.
var SupportedSpreadsheetExtensions = []string{".xlsx", ".xlsm", ".csv"}

// ReadHeaders returns the header row of the first worksheet. Empty cells
// inside the row are named "Unnamed: <index>".
func (s *SpreadsheetReader) ReadHeaders(name string, r io.Reader) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".xlsx", ".xlsm":
		return s.readWorkbookHeaders(name, r)
	case ".csv":
		return s.readCSVHeaders(name, r)
	case ".xls":
		return nil, domain.NewValidationError("file", "legacy .xls workbooks are not supported, save as .xlsx", name)
	default:
		return nil, domain.NewValidationError("file", fmt.Sprintf("unsupported file type %q, expected one of %s",
			ext, strings.Join(SupportedSpreadsheetExtensions, ", ")), name)
	}
}

func (s *SpreadsheetReader) readWorkbookHeaders(name string, r io.Reader) ([]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, domain.NewValidationError("file", "unreadable workbook: "+err.Error(), name)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return []string{}, nil
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, domain.NewValidationError("file", "unreadable worksheet: "+err.Error(), name)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Error(); err != nil {
			return nil, domain.NewValidationError("file", "unreadable worksheet: "+err.Error(), name)
		}
		return []string{}, nil
	}

	cells, err := rows.Columns()
	if err != nil {
		return nil, domain.NewValidationError("file", "unreadable header row: "+err.Error(), name)
	}
	return normalizeHeaders(cells), nil
}

func (s *SpreadsheetReader) readCSVHeaders(name string, r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	record, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []string{}, nil
	}
	if err != nil {
		return nil, domain.NewValidationError("file", "unreadable csv: "+err.Error(), name)
	}
	if len(record) > 0 {
		record[0] = strings.TrimPrefix(record[0], "\ufeff")
	}
	return normalizeHeaders(record), nil
}

func normalizeHeaders(cells []string) []string {
	// trailing blank cells are not part of the header
	end := len(cells)
	for end > 0 && strings.TrimSpace(cells[end-1]) == "" {
		end--
	}

	headers := make([]string, end)
	for i := 0; i < end; i++ {
		if strings.TrimSpace(cells[i]) == "" {
			headers[i] = fmt.Sprintf("Unnamed: %d", i)
			continue
		}
		headers[i] = cells[i]
	}
	return headers
}
