package sqlfmt

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"metatable/internal/apperr"
)

const (
	Null = "NULL"

	DateTimeLayout = "2006-01-02 15:04:05"
	DateLayout     = "2006-01-02"
)

var numberPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// Audit fields are formatted by fixed rule whatever the column metadata says.
var auditTypes = map[string]string{
	"id":         "number",
	"deleted":    "number",
	"createTime": "datetime",
	"updateTime": "datetime",
}

var temporalLayouts = []string{
	DateTimeLayout,
	DateLayout,
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

// Formatter turns application values into SQL literal text. It is the only
// place values are spliced into SQL.
type Formatter struct {
	timestamp func(quoted string) string
}

// New returns a Formatter using the dialect's timestamp parse expression.
func New(timestampExpr func(quoted string) string) *Formatter {
	return &Formatter{timestamp: timestampExpr}
}

// Quote renders s as a single-quoted string with embedded quotes doubled.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Literal renders value for a column of the declared data type.
func (f *Formatter) Literal(value any, dataType, field string) (string, error) {
	if value == nil {
		return Null, nil
	}
	if t, ok := auditTypes[field]; ok {
		dataType = t
	}
	switch dataType {
	case "date", "datetime", "timestamp":
		return f.Timestamp(value, field)
	case "number", "int", "integer", "decimal":
		return Number(value, field)
	default:
		return Quote(toText(value)), nil
	}
}

// List renders a comma-joined literal list, each item formatted by Literal.
// A string value is split on commas.
func (f *Formatter) List(values any, dataType, field string) (string, error) {
	items := toItems(values)
	if len(items) == 0 {
		return "", apperr.InvalidArgumentf("empty value list for %s", field)
	}
	parts := make([]string, len(items))
	for i, item := range items {
		lit, err := f.Literal(item, dataType, field)
		if err != nil {
			return "", err
		}
		parts[i] = lit
	}
	return strings.Join(parts, ", "), nil
}

// Value renders a value whose column type is unknown, inferring from the Go
// type. Used for rule templates.
func (f *Formatter) Value(v any, name string) (string, error) {
	switch val := v.(type) {
	case nil:
		return Null, nil
	case string:
		return Quote(val), nil
	case bool:
		if val {
			return "1", nil
		}
		return "0", nil
	case time.Time:
		return f.Timestamp(val, name)
	case json.Number, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return Number(val, name)
	}
	if isList(v) {
		items := toItems(v)
		if len(items) == 0 {
			return "", apperr.InvalidArgumentf("empty value list for %s", name)
		}
		parts := make([]string, len(items))
		for i, item := range items {
			lit, err := f.Value(item, name)
			if err != nil {
				return "", err
			}
			parts[i] = lit
		}
		return strings.Join(parts, ", "), nil
	}
	return Quote(toText(v)), nil
}

// Timestamp renders a temporal value as the dialect's timestamp parse call.
func (f *Formatter) Timestamp(value any, field string) (string, error) {
	var text string
	switch v := value.(type) {
	case time.Time:
		text = v.Format(DateTimeLayout)
	default:
		s := strings.TrimSpace(toText(value))
		if s == "" {
			return Null, nil
		}
		t, ok := ParseTemporal(s)
		if !ok {
			return "", apperr.InvalidArgumentf("invalid date value %q for %s", s, field)
		}
		text = t.Format(DateTimeLayout)
	}
	return f.timestamp(Quote(text)), nil
}

// Number validates value against the strict numeric pattern. A blank string
// becomes NULL; anything else that does not match is rejected.
func Number(value any, field string) (string, error) {
	var s string
	switch v := value.(type) {
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(v), 'f', -1, 32)
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
		if s == "" {
			return Null, nil
		}
	default:
		var err error
		if s, err = cast.ToStringE(value); err != nil {
			return "", apperr.InvalidArgumentf("invalid number for %s", field)
		}
	}
	if !numberPattern.MatchString(s) {
		return "", apperr.InvalidArgumentf("invalid number %q for %s", s, field)
	}
	return s, nil
}

// ParseTemporal accepts the date and date-time shapes clients send.
func ParseTemporal(s string) (time.Time, bool) {
	for _, layout := range temporalLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func toText(v any) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return ""
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	if k != reflect.Slice && k != reflect.Array {
		return false
	}
	_, isBytes := v.([]byte)
	return !isBytes
}

func toItems(v any) []any {
	if s, ok := v.(string); ok {
		var items []any
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		return items
	}
	if !isList(v) {
		if v == nil {
			return nil
		}
		return []any{v}
	}
	rv := reflect.ValueOf(v)
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items
}
