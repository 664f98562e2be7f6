package patterns

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"
)

// XLSXSource reads one column of a local workbook.
type XLSXSource struct {
	Path       string
	Sheet      string
	Column     int // 0-based
	SkipHeader bool
}

func (s *XLSXSource) Name() string { return "xlsx:" + s.Path }

func (s *XLSXSource) Fetch(ctx context.Context) ([]string, error) {
	f, err := excelize.OpenFile(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := s.Sheet
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		// Fall back to the first sheet when the configured one is absent.
		sheet = f.GetSheetName(0)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}

	cells := make([]string, 0, len(rows))
	for _, row := range rows {
		if s.Column < len(row) {
			cells = append(cells, row[s.Column])
		} else {
			cells = append(cells, "")
		}
	}
	return skipFirst(cells, s.SkipHeader), nil
}

// CSVSource reads one column of a local CSV export.
type CSVSource struct {
	Path       string
	Column     int // 0-based
	SkipHeader bool
}

func (s *CSVSource) Name() string { return "csv:" + s.Path }

func (s *CSVSource) Fetch(ctx context.Context) ([]string, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readCSVColumn(f, s.Column, s.SkipHeader)
}

func readCSVColumn(r io.Reader, col int, skipHeader bool) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var cells []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if col < len(rec) {
			cells = append(cells, rec[col])
		} else {
			cells = append(cells, "")
		}
	}
	return skipFirst(cells, skipHeader), nil
}
