package table

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// excelEpoch is day zero of the 1900 date system as spreadsheets count it
// (serial 1 = 1900-01-01, with the historical 1900 leap-year bug absorbed).
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// maxExcelSerial is 9999-12-31.
const maxExcelSerial = 2958465

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04",
	"02.01.2006",
	"20060102",
}

// IsNull reports whether v is a null cell: nil, a blank string, an empty
// byte slice or a NaN float.
func IsNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []byte:
		return len(strings.TrimSpace(string(t))) == 0
	case float64:
		return math.IsNaN(t)
	case float32:
		return math.IsNaN(float64(t))
	default:
		return false
	}
}

// KeyString produces the canonical string form used to compare identifiers
// across origins. Integers and integral floats are rendered in base 10, so
// "7", int64(7) and 7.0 share one key. Strings are only trimmed: "007" and
// "7.0" stay distinct from "7". Nulls map to "".
func KeyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return KeyString(string(t))
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(t)
	case int8:
		return strconv.FormatInt(int64(t), 10)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint8:
		return strconv.FormatUint(uint64(t), 10)
	case uint16:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return KeyString(float64(t))
	case float64:
		if math.IsNaN(t) {
			return ""
		}
		if isIntegral(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		s, _ := String(v)
		return strings.TrimSpace(s)
	}
}

// looksNumeric rejects inputs strconv accepts but identifiers should keep
// verbatim, like "Inf", "0x1F" or "1e3".
func looksNumeric(s string) bool {
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.':
		case (r == '-' || r == '+') && i == 0:
		default:
			return false
		}
	}
	return s != ""
}

func isIntegral(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f) && math.Abs(f) < 1<<53
}

// Float coerces v to a float64. ok is false for nulls and values that are not
// numbers.
func Float(v any) (f float64, ok bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return t, !math.IsNaN(t)
	case float32:
		return float64(t), !math.IsNaN(float64(t))
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(t)
		if !looksNumeric(s) && !looksScientific(s) {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case []byte:
		return Float(string(t))
	default:
		return 0, false
	}
}

func looksScientific(s string) bool {
	mant, exp, found := strings.Cut(strings.ToLower(s), "e")
	if !found {
		return false
	}
	exp = strings.TrimPrefix(strings.TrimPrefix(exp, "+"), "-")
	return looksNumeric(mant) && looksNumeric(exp) && !strings.Contains(exp, ".")
}

// FloatOr returns Float(v) or def when v is null or not numeric.
func FloatOr(v any, def float64) float64 {
	if f, ok := Float(v); ok {
		return f
	}
	return def
}

// Int coerces v to an int64. Fractional numbers are truncated toward zero.
func Int(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	}
	f, ok := Float(v)
	if !ok || math.Abs(f) >= 1<<63 {
		return 0, false
	}
	return int64(math.Trunc(f)), true
}

// String renders v as text. ok is false for nulls.
func String(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []byte:
		return string(t), true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		if math.IsNaN(t) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return String(float64(t))
	case time.Time:
		return t.Format(time.RFC3339), true
	}
	if i, ok := Int(v); ok {
		return strconv.FormatInt(i, 10), true
	}
	return "", false
}

// Bool coerces flags. Numbers are true when non-zero; strings accept the
// usual English and French spellings.
func Bool(v any) (b bool, ok bool) {
	switch t := v.(type) {
	case nil:
		return false, false
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "t", "yes", "y", "1", "-1", "vrai", "oui":
			return true, true
		case "false", "f", "no", "n", "0", "faux", "non":
			return false, true
		}
		if f, ok := Float(t); ok {
			return f != 0, true
		}
		return false, false
	case []byte:
		return Bool(string(t))
	}
	if f, ok := Float(v); ok {
		return f != 0, true
	}
	return false, false
}

// Date coerces v to a calendar date at UTC midnight; the time of day is
// discarded. It accepts time.Time, spreadsheet serial day numbers and the
// textual layouts in dateLayouts.
func Date(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return midnight(t), true
	case string:
		return parseDateString(t)
	case []byte:
		return parseDateString(string(t))
	}
	if f, ok := Float(v); ok {
		return serialDate(f)
	}
	return time.Time{}, false
}

func parseDateString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	// A bare four-digit year reads as January 1st, not as a serial.
	if len(s) == 4 {
		if t, err := time.Parse("2006", s); err == nil {
			return t, true
		}
	}
	if f, ok := Float(s); ok && f <= maxExcelSerial {
		return serialDate(f)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return midnight(t), true
		}
	}
	return time.Time{}, false
}

func serialDate(f float64) (time.Time, bool) {
	if f < 1 || f > maxExcelSerial {
		return time.Time{}, false
	}
	return excelEpoch.AddDate(0, 0, int(math.Floor(f))), true
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey formats a date as the YYYYMMDD integer used for TimeKey.
func DateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
