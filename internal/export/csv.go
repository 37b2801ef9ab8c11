package export

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Result describes one written snapshot file.
type Result struct {
	Name   string
	Path   string
	Rows   int
	Digest string
}

// CSV writes snapshots as <Dir>/<name>.csv.
//
// Each file is written to a temporary file in Dir and renamed over the
// previous snapshot, so a reader never sees a half-written file. There is
// no transaction across files.
type CSV struct {
	Dir string
}

// Write writes every snapshot in order and stops at the first failure.
// Files written before the failure stay in place.
func (w CSV) Write(ctx context.Context, snaps []Snapshot) ([]Result, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create %s: %w", w.Dir, err)
	}
	out := make([]Result, 0, len(snaps))
	for _, s := range snaps {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := w.writeOne(s)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (w CSV) writeOne(s Snapshot) (Result, error) {
	final := filepath.Join(w.Dir, s.Name+".csv")
	tmp, err := os.CreateTemp(w.Dir, "."+s.Name+".*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("export: %s: %w", s.Name, err)
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	bw := bufio.NewWriter(tmp)
	cw := csv.NewWriter(bw)
	if err := cw.Write(s.ColumnNames()); err != nil {
		cleanup()
		return Result{}, fmt.Errorf("export: %s: header: %w", s.Name, err)
	}
	record := make([]string, len(s.Columns))
	for _, row := range s.Rows {
		for i := range record {
			var v any
			if i < len(row) {
				v = row[i]
			}
			record[i] = FormatCell(v)
		}
		if err := cw.Write(record); err != nil {
			cleanup()
			return Result{}, fmt.Errorf("export: %s: %w", s.Name, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		cleanup()
		return Result{}, fmt.Errorf("export: %s: flush: %w", s.Name, err)
	}
	if err := bw.Flush(); err != nil {
		cleanup()
		return Result{}, fmt.Errorf("export: %s: flush: %w", s.Name, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return Result{}, fmt.Errorf("export: %s: sync: %w", s.Name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return Result{}, fmt.Errorf("export: %s: close: %w", s.Name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return Result{}, fmt.Errorf("export: %s: chmod: %w", s.Name, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return Result{}, fmt.Errorf("export: %s: rename: %w", s.Name, err)
	}
	return Result{Name: s.Name, Path: final, Rows: len(s.Rows), Digest: Digest(s)}, nil
}

// FormatCell renders a snapshot cell. Nulls are empty, floats use the
// shortest decimal that round-trips, dates are YYYY-MM-DD and booleans are
// True/False.
func FormatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if math.IsNaN(t) {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format("2006-01-02")
	default:
		return fmt.Sprint(t)
	}
}

// Digest is a SHA-256 over the header and the formatted cells of s. Two
// snapshots with the same digest produce byte-identical files.
//
// Every field is length-prefixed and nulls carry their own tag, so a text
// cell reading "null" and a null cell never hash alike.
func Digest(s Snapshot) string {
	h := sha256.New()
	field := func(v string) {
		_, _ = h.Write([]byte("v" + strconv.Itoa(len(v)) + ":" + v))
	}
	for _, c := range s.Columns {
		field(c.Name)
	}
	_, _ = h.Write([]byte{'\n'})
	for _, row := range s.Rows {
		for i := range s.Columns {
			if i >= len(row) || row[i] == nil {
				_, _ = h.Write([]byte{'n'})
				continue
			}
			field(FormatCell(row[i]))
		}
		_, _ = h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
