package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	csvparser "northwind/internal/parser/csv"
	"northwind/internal/table"
)

// Spreadsheet loads tables from workbook exports in Dir.
//
// For a logical table T it tries, in order, T.xlsx, T_with_underscores.xlsx,
// T.csv and T_with_underscores.csv. The first file found wins. Workbooks are
// read from their first sheet; the first row is the header.
type Spreadsheet struct {
	Dir string

	// CSVEncoding is the character set of .csv exports (empty = UTF-8).
	CSVEncoding string
	// CSVComma is the .csv delimiter (zero = ',').
	CSVComma rune

	// OnBadRecord receives malformed CSV records that were skipped.
	OnBadRecord func(path string, line int, err error)
}

// Locate returns the first candidate path that exists for name, or "".
func (s *Spreadsheet) Locate(name string) (string, error) {
	for _, ext := range []string{".xlsx", ".csv"} {
		for _, stem := range fileStems(name) {
			p := filepath.Join(s.Dir, stem+ext)
			st, err := os.Stat(p)
			if err == nil && !st.IsDir() {
				return p, nil
			}
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return "", fmt.Errorf("source: stat %s: %w", p, err)
			}
		}
	}
	return "", nil
}

// Load implements Loader.
//
// Errors:
//   - A workbook or CSV file that exists but cannot be parsed is an error.
//   - A workbook with no sheets or an empty first sheet yields an empty table.
func (s *Spreadsheet) Load(ctx context.Context, name string) (*table.Table, error) {
	if s == nil || s.Dir == "" {
		return nil, nil
	}
	path, err := s.Locate(name)
	if err != nil || path == "" {
		return nil, err
	}
	if filepath.Ext(path) == ".csv" {
		return s.loadCSV(ctx, name, path)
	}
	return loadWorkbook(ctx, name, path)
}

func loadWorkbook(ctx context.Context, name, path string) (*table.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("source: open workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return table.New(name, nil), nil
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("source: read sheet %q of %s: %w", sheets[0], path, err)
	}
	defer rows.Close()

	var out *table.Table
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cells, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("source: read row of %s: %w", path, err)
		}
		if out == nil {
			header := make([]string, len(cells))
			for i, c := range cells {
				header[i] = cleanHeader(c)
			}
			out = table.New(name, header)
			continue
		}
		row, blank := workbookRow(cells, len(out.Columns))
		if blank {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("source: iterate rows of %s: %w", path, err)
	}
	if out == nil {
		out = table.New(name, nil)
	}
	return out, nil
}

// workbookRow aligns cells to width, mapping empty cells to nil. blank is
// true when every cell is empty.
func workbookRow(cells []string, width int) (row []any, blank bool) {
	row = make([]any, width)
	blank = true
	for i := 0; i < width && i < len(cells); i++ {
		if cells[i] == "" {
			continue
		}
		row[i] = cells[i]
		blank = false
	}
	return row, blank
}

func (s *Spreadsheet) loadCSV(ctx context.Context, name, path string) (*table.Table, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}

	out := table.New(name, nil)
	err = csvparser.StreamRows(ctx, fh,
		csvparser.Options{Comma: s.CSVComma, Encoding: s.CSVEncoding, LazyQuotes: true},
		func(header []string) error {
			for _, h := range header {
				out.Columns = append(out.Columns, cleanHeader(h))
			}
			return nil
		},
		func(_ int, row []any) error {
			for _, v := range row {
				if v != nil {
					out.Rows = append(out.Rows, row)
					return nil
				}
			}
			return nil
		},
		func(line int, err error) {
			if s.OnBadRecord != nil {
				s.OnBadRecord(path, line, err)
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("source: parse %s: %w", path, err)
	}
	return out, nil
}
