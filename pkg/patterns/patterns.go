// Package patterns loads the ordered pattern list used by the link
// classifier from a spreadsheet column.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	DefaultSheet  = "패턴단어"
	DefaultColumn = "C"
)

var (
	ErrNoPatterns = errors.New("pattern source returned no patterns")
	ErrNotPublic  = errors.New("spreadsheet is not shared publicly")
)

// Source supplies an ordered list of pattern strings.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]string, error)
}

// Config selects and configures a Source.
type Config struct {
	Kind       string `mapstructure:"source"` // gviz | pubhtml | xlsx | csv
	SheetID    string `mapstructure:"sheet_id"`
	Sheet      string `mapstructure:"sheet"`
	GID        string `mapstructure:"gid"`
	Column     string `mapstructure:"column"`
	Path       string `mapstructure:"path"`
	SkipHeader bool   `mapstructure:"skip_header"`
}

// New builds the Source described by cfg.
func New(cfg Config) (Source, error) {
	col, err := columnIndex(cfg.Column)
	if err != nil {
		return nil, err
	}
	sheet := cfg.Sheet
	if sheet == "" {
		sheet = DefaultSheet
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "gviz", "gsheet":
		if cfg.SheetID == "" {
			return nil, errors.New("patterns.sheet_id is required for a Google Sheets source")
		}
		return &GVizSource{SheetID: cfg.SheetID, Sheet: sheet, Column: col, SkipHeader: cfg.SkipHeader}, nil
	case "pubhtml", "html":
		if cfg.SheetID == "" {
			return nil, errors.New("patterns.sheet_id is required for a published sheet source")
		}
		return &HTMLSource{SheetID: cfg.SheetID, GID: cfg.GID, Column: col, SkipHeader: cfg.SkipHeader}, nil
	case "xlsx":
		if cfg.Path == "" {
			return nil, errors.New("patterns.path is required for an xlsx source")
		}
		return &XLSXSource{Path: cfg.Path, Sheet: sheet, Column: col, SkipHeader: cfg.SkipHeader}, nil
	case "csv":
		if cfg.Path == "" {
			return nil, errors.New("patterns.path is required for a csv source")
		}
		return &CSVSource{Path: cfg.Path, Column: col, SkipHeader: cfg.SkipHeader}, nil
	}
	return nil, fmt.Errorf("unsupported pattern source: %s", cfg.Kind)
}

// Load fetches patterns from src and cleans them. An empty result is an
// error: nothing can be classified without patterns.
func Load(ctx context.Context, src Source) ([]string, error) {
	raw, err := src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Name(), err)
	}
	out := Clean(raw)
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", src.Name(), ErrNoPatterns)
	}
	return out, nil
}

// Clean trims cells and drops blanks, keeping order and duplicates.
func Clean(cells []string) []string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// columnIndex converts a column letter (C) or 1-based number to a 0-based index.
func columnIndex(col string) (int, error) {
	col = strings.TrimSpace(col)
	if col == "" {
		col = DefaultColumn
	}
	n, err := excelize.ColumnNameToNumber(strings.ToUpper(col))
	if err != nil {
		var num int
		if _, scanErr := fmt.Sscanf(col, "%d", &num); scanErr != nil || num < 1 {
			return 0, fmt.Errorf("invalid column %q: %w", col, err)
		}
		n = num
	}
	return n - 1, nil
}

func skipFirst(cells []string, skip bool) []string {
	if skip && len(cells) > 0 {
		return cells[1:]
	}
	return cells
}
