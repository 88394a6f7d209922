package core

// convert.go coerces raw spreadsheet cells into typed field values.
//
// Cells arrive as whatever the workbook reader produced: strings, float64
// serials, booleans, time.Time, or nil. These functions handle the messy
// reality of hand-maintained workbooks:
//   - Date cells stored as spreadsheet serial numbers
//   - Several string date layouts (ISO, slashed, dotted, Chinese)
//   - Status labels typed into timestamp columns
//   - Thousand separators and percent signs in numbers
//   - Localized yes/no literals
//
// The Coerce* functions return pgtype values with Valid=false for empty or
// invalid input. Coerce wraps them and never panics.

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// spreadsheetEpoch is serial day 0. It sits two days before 1900-01-01 to
// absorb the 1900 leap-year bug carried by spreadsheet applications.
var spreadsheetEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// maxSerial is 9999-12-31.
const maxSerial = 2958465

var (
	dateLayouts = []string{
		"2006-1-2",
		"2006/1/2",
		"1/2/2006",
		"2/1/2006",
		"2006.1.2",
		"2006年1月2日",
		"20060102",
	}
	timestampLayouts = []string{
		time.RFC3339,
		"2006-1-2 15:04:05",
		"2006-1-2T15:04:05",
		"2006-1-2 15:04",
		"2006/1/2 15:04:05",
		"2006/1/2 15:04",
		"1/2/2006 15:04:05",
		"1/2/2006 15:04",
		"2006年1月2日 15:04",
	}
)

// statusLabels are values that show up in timestamp columns when a sheet's
// columns have shifted. They are never parsed as timestamps.
var statusLabels = map[string]bool{
	"completed": true, "complete": true, "done": true, "finished": true,
	"in progress": true, "pending": true, "blocked": true, "n/a": true,
	"已完成": true, "完成": true, "全部完成": true, "进行中": true, "研发进行中": true,
	"测试中": true, "待上线": true, "待启动": true, "未启动": true, "阻塞中": true,
	"业务上线中": true, "无": true, "-": true,
}

var (
	truthy = map[string]bool{"是": true, "true": true, "yes": true, "y": true, "1": true, "t": true, "对": true, "√": true, "✓": true}
	falsy  = map[string]bool{"否": true, "false": true, "no": true, "n": true, "0": true, "f": true, "不是": true, "×": true, "✗": true}
)

// Coerce converts a raw cell to the declared field type.
//
// Dates and timestamps that cannot be parsed become null. Integers and
// booleans that cannot be parsed fall back to the trimmed raw text so the
// caller can report what was there. Empty cells are always null.
func Coerce(raw any, t FieldType) (v Value) {
	defer func() {
		if recover() != nil {
			v = Value{}
		}
	}()

	switch t {
	case FieldDate:
		if d := CoerceDate(raw); d.Valid {
			return DateValue(d.Time)
		}
		return Value{Type: FieldDate}
	case FieldTimestamp:
		if ts := CoerceTimestamp(raw); ts.Valid {
			return TimestampValue(ts.Time)
		}
		return Value{Type: FieldTimestamp}
	case FieldInt:
		if i := CoerceInt(raw); i.Valid {
			return IntValue(i.Int64)
		}
	case FieldBool:
		if b := CoerceBool(raw); b.Valid {
			return BoolValue(b.Bool)
		}
	default:
		if s := CoerceText(raw); s.Valid {
			return TextValue(s.String)
		}
		return Value{}
	}

	if s := CoerceText(raw); s.Valid {
		return TextValue(s.String)
	}
	return Value{Type: t}
}

// CoerceText trims a cell; an empty result is null.
func CoerceText(raw any) pgtype.Text {
	s := strings.TrimSpace(CellString(raw))
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// CoerceDate accepts calendar dates, timestamps (truncated), spreadsheet
// serials and the string layouts in dateLayouts.
func CoerceDate(raw any) pgtype.Date {
	switch v := raw.(type) {
	case time.Time:
		return pgtype.Date{Time: truncateDate(v), Valid: !v.IsZero()}
	case string:
		t, ok := parseDateString(v)
		if !ok {
			return pgtype.Date{}
		}
		return pgtype.Date{Time: t, Valid: true}
	}

	f, ok := numericCell(raw)
	if !ok {
		return pgtype.Date{}
	}
	t, ok := SerialToTime(math.Floor(f))
	if !ok {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: t, Valid: true}
}

// CoerceTimestamp behaves like CoerceDate but keeps the time of day.
// Status labels such as "completed" are treated as null.
func CoerceTimestamp(raw any) pgtype.Timestamptz {
	switch v := raw.(type) {
	case time.Time:
		return pgtype.Timestamptz{Time: v, Valid: !v.IsZero()}
	case string:
		s := strings.TrimSpace(v)
		if s == "" || IsStatusLabel(s) {
			return pgtype.Timestamptz{}
		}
		for _, layout := range timestampLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return pgtype.Timestamptz{Time: t, Valid: true}
			}
		}
		if t, ok := parseDateString(s); ok {
			return pgtype.Timestamptz{Time: t, Valid: true}
		}
		return pgtype.Timestamptz{}
	}

	f, ok := numericCell(raw)
	if !ok {
		return pgtype.Timestamptz{}
	}
	t, ok := SerialToTime(f)
	if !ok {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

// CoerceInt accepts numbers and numeric strings, truncating toward zero.
func CoerceInt(raw any) pgtype.Int8 {
	if s, ok := raw.(string); ok {
		d, err := decimal.NewFromString(cleanNumber(s))
		if err != nil {
			return pgtype.Int8{}
		}
		i, ok := truncInt64(d)
		if !ok {
			return pgtype.Int8{}
		}
		return pgtype.Int8{Int64: i, Valid: true}
	}

	f, ok := numericCell(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return pgtype.Int8{}
	}
	f = math.Trunc(f)
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: int64(f), Valid: true}
}

// maxInt64Digits is the number of decimal digits in math.MaxInt64.
const maxInt64Digits = 19

// magnitude returns the position of the most significant digit of d
// relative to the decimal point: 1 for 1..9, 0 for 0.1..0.9. It is read
// from the coefficient and exponent, so d is never rescaled.
func magnitude(d decimal.Decimal) int64 {
	return int64(d.NumDigits()) + int64(d.Exponent())
}

// truncInt64 truncates d toward zero. Values outside int64 are rejected
// before any comparison, since comparing rescales both operands and an
// exponent such as 1e99999999 would expand to a hundred million digits.
func truncInt64(d decimal.Decimal) (int64, bool) {
	if d.Sign() == 0 {
		return 0, true
	}
	switch m := magnitude(d); {
	case m > maxInt64Digits:
		return 0, false
	case m <= 0:
		return 0, true
	}
	d = d.Truncate(0)
	if d.LessThan(decimal.NewFromInt(math.MinInt64)) || d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, false
	}
	return d.IntPart(), true
}

// floatSafe reports whether d can be converted to float64 without
// expanding an extreme exponent.
func floatSafe(d decimal.Decimal) bool {
	m := magnitude(d)
	return m <= 309 && m >= -324
}

// CoerceBool accepts native booleans, the localized literals in truthy and
// falsy, and numeric 0/1.
func CoerceBool(raw any) pgtype.Bool {
	switch v := raw.(type) {
	case bool:
		return pgtype.Bool{Bool: v, Valid: true}
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		switch {
		case truthy[s]:
			return pgtype.Bool{Bool: true, Valid: true}
		case falsy[s]:
			return pgtype.Bool{Bool: false, Valid: true}
		}
		return pgtype.Bool{}
	}

	f, ok := numericCell(raw)
	if !ok {
		return pgtype.Bool{}
	}
	switch f {
	case 0:
		return pgtype.Bool{Bool: false, Valid: true}
	case 1:
		return pgtype.Bool{Bool: true, Valid: true}
	}
	return pgtype.Bool{}
}

// IsStatusLabel reports whether s is a known workflow status label.
func IsStatusLabel(s string) bool {
	return statusLabels[strings.ToLower(strings.TrimSpace(s))]
}

// SerialToTime converts a spreadsheet serial (days since the epoch, with
// the fraction as time of day) to a UTC time. Seconds are rounded.
func SerialToTime(serial float64) (time.Time, bool) {
	if math.IsNaN(serial) || serial < 1 || serial > maxSerial {
		return time.Time{}, false
	}
	days := math.Floor(serial)
	secs := math.Round((serial - days) * 86400)
	return spreadsheetEpoch.AddDate(0, 0, int(days)).Add(time.Duration(secs) * time.Second), true
}

// CellString renders a raw cell as text. Whole floats print without a
// fractional part and midnight times print as dates.
func CellString(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		if v.Equal(truncateDate(v)) {
			return v.Format(time.DateOnly)
		}
		return v.Format(time.DateTime)
	case decimal.Decimal:
		if !floatSafe(v) {
			return ""
		}
		return v.String()
	}
	return ""
}

// numericCell extracts a float from numeric cell types and plain numeric strings.
func numericCell(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case decimal.Decimal:
		if !floatSafe(v) {
			return 0, false
		}
		return v.InexactFloat64(), true
	}
	return 0, false
}

func parseDateString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return truncateDate(t), true
		}
	}
	return time.Time{}, false
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// cleanNumber strips separators and unit suffixes people type into numeric cells.
func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(",", "", "，", "", " ", "", "%", "", "％", "", "小时", "", "h", "").Replace(s)
	return s
}
