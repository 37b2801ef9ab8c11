// Package csv streams delimited text exports into positional rows.
//
// It is used for spreadsheet tables exported as CSV and for re-reading the
// published snapshot when checking the output contract.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// Options controls how a CSV document is read.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune

	// Encoding names the source character set ("windows-1252", "iso-8859-1",
	// "utf-16le", ...). Empty or "utf-8" reads the bytes as UTF-8.
	Encoding string

	// TrimSpace trims leading/trailing whitespace from every cell.
	TrimSpace bool

	LazyQuotes bool
}

// decoder wraps r so it yields UTF-8 for the configured encoding.
//
// Errors:
//   - Returns an error for encoding names unknown to the WHATWG index.
func decoder(r io.Reader, name string) (io.Reader, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" || name == "utf-8" || name == "utf8" {
		return r, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("csv: unknown encoding %q: %w", name, err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// StreamRows reads src and calls onHeader once with the header record, then
// onRow for every data record.
//
// Row values are aligned to the header: short records are padded, extra
// fields are dropped, empty cells become nil. The first header cell has any
// UTF-8 byte order mark stripped.
//
// Errors:
//   - A malformed record is reported through onErr (when non-nil) and skipped.
//   - Any other read error (I/O, decoding) stops the stream and is returned.
//   - Errors returned by onHeader/onRow abort the stream and are returned.
//   - Context cancellation is checked between records.
func StreamRows(
	ctx context.Context,
	src io.ReadCloser,
	opt Options,
	onHeader func(header []string) error,
	onRow func(line int, row []any) error,
	onErr func(line int, err error),
) error {
	defer src.Close()

	r, err := decoder(src, opt.Encoding)
	if err != nil {
		return err
	}

	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.ReuseRecord = true
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	line := 1
	hdr, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("csv: read header: %w", err)
	}
	header := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		header[i] = strings.TrimSpace(h)
	}
	if onHeader != nil {
		if err := onHeader(header); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line++
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return fmt.Errorf("csv: read line %d: %w", line, err)
			}
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		row := make([]any, len(header))
		for i := range header {
			if i >= len(rec) {
				break
			}
			v := rec[i]
			if opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row[i] = v
			}
		}
		if err := onRow(line, row); err != nil {
			return err
		}
	}
}
