package engine

import (
	"strings"
	"time"

	"github.com/spf13/cast"

	"metatable/internal/metadata"
	"metatable/internal/sqlfmt"
)

// convertRows renames physical columns to field names and turns driver
// values into their wire form. Columns hidden by the page permission are
// dropped.
func (e *Engine) convertRows(tv *tableView, rows []map[string]any) []map[string]any {
	names := tv.full.FieldNames()
	out := make([]map[string]any, 0, len(rows))
	for _, raw := range rows {
		row := make(map[string]any, len(raw))
		for column, v := range raw {
			field, ok := names[strings.ToUpper(column)]
			if !ok {
				field = sqlfmt.ToField(column)
			}
			if tv.hidden[field] {
				continue
			}
			row[field] = convertValue(v, fieldType(tv.full, field))
		}
		out = append(out, row)
	}
	return out
}

func fieldType(td *metadata.TableDescriptor, field string) string {
	if metadata.IsAuditField(field) {
		return metadata.AuditDataType(field)
	}
	if c := td.Column(field); c != nil {
		return c.DataType
	}
	return ""
}

// convertValue formats temporal values as text and normalizes numbers that
// drivers hand back as strings (NUMERIC) or floats (SQLite REAL keys).
func convertValue(v any, dataType string) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		if dataType == "date" {
			return val.Format(sqlfmt.DateLayout)
		}
		return val.Format(sqlfmt.DateTimeLayout)
	}

	switch dataType {
	case "date", "datetime", "timestamp":
		s, ok := v.(string)
		if !ok {
			return v
		}
		t, ok := sqlfmt.ParseTemporal(strings.TrimSpace(s))
		if !ok {
			return v
		}
		if dataType == "date" {
			return t.Format(sqlfmt.DateLayout)
		}
		return t.Format(sqlfmt.DateTimeLayout)
	case "int", "integer":
		if n, err := cast.ToInt64E(v); err == nil {
			return n
		}
	case "number", "decimal":
		if s, ok := v.(string); ok {
			if strings.Contains(s, ".") {
				if f, err := cast.ToFloat64E(s); err == nil {
					return f
				}
			} else if n, err := cast.ToInt64E(s); err == nil {
				return n
			}
		}
	}
	return v
}
