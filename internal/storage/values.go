package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// BindRows converts snapshot cells to the Go types a driver expects for each
// column's logical type: int64, float64, string, bool, time.Time or nil.
//
// Errors:
//   - A row whose width differs from the column count.
//   - A null in a non-nullable column.
//   - A value that cannot represent the column type.
func BindRows(spec TableSpec, rows [][]any) ([][]any, error) {
	out := make([][]any, len(rows))
	for i, row := range rows {
		if len(row) != len(spec.Columns) {
			return nil, fmt.Errorf("storage: %s row %d: %d values for %d columns", spec.Name, i, len(row), len(spec.Columns))
		}
		bound := make([]any, len(row))
		for j, c := range spec.Columns {
			v, err := BindValue(row[j], c.Type)
			if err != nil {
				return nil, fmt.Errorf("storage: %s row %d column %s: %w", spec.Name, i, c.Name, err)
			}
			if v == nil && !c.Nullable {
				return nil, fmt.Errorf("storage: %s row %d column %s: null in non-nullable column", spec.Name, i, c.Name)
			}
			bound[j] = v
		}
		out[i] = bound
	}
	return out, nil
}

// BindValue converts one cell to the driver type for typ.
func BindValue(v any, typ string) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case TypeInt:
		switch t := v.(type) {
		case int64:
			return t, nil
		case int:
			return int64(t), nil
		case int32:
			return int64(t), nil
		case float64:
			if t != math.Trunc(t) {
				return nil, fmt.Errorf("non-integral %v", t)
			}
			return int64(t), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return nil, err
			}
			return n, nil
		}
	case TypeFloat:
		switch t := v.(type) {
		case float64:
			if math.IsNaN(t) {
				return nil, nil
			}
			return t, nil
		case int64:
			return float64(t), nil
		case int:
			return float64(t), nil
		case string:
			return strconv.ParseFloat(strings.TrimSpace(t), 64)
		}
	case TypeText:
		switch t := v.(type) {
		case string:
			return t, nil
		case int64:
			return strconv.FormatInt(t, 10), nil
		case int:
			return strconv.Itoa(t), nil
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeDate:
		switch t := v.(type) {
		case time.Time:
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		case string:
			return time.Parse("2006-01-02", strings.TrimSpace(t))
		}
	default:
		return nil, fmt.Errorf("unknown type %q", typ)
	}
	return nil, fmt.Errorf("cannot bind %T as %s", v, typ)
}

// Chunks splits rows into batches holding at most maxParams bound values
// and at most maxRows rows. Zero limits are ignored.
func Chunks(rows [][]any, width, maxParams, maxRows int) [][][]any {
	size := len(rows)
	if maxParams > 0 && width > 0 {
		size = maxParams / width
	}
	if maxRows > 0 && maxRows < size {
		size = maxRows
	}
	if size < 1 {
		size = 1
	}
	var out [][][]any
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}
