package sqlfmt

import (
	"strings"
	"unicode"
)

// ToPhysical converts a lower-camel field name to an upper-snake column name:
// orderDate -> ORDER_DATE.
func ToPhysical(field string) string {
	var b strings.Builder
	b.Grow(len(field) + 4)
	for i, r := range field {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// ToField converts an upper-snake column name to a lower-camel field name:
// ORDER_DATE -> orderDate. Underscores are word boundaries and are dropped.
func ToField(column string) string {
	var b strings.Builder
	b.Grow(len(column))
	upperNext := false
	for _, r := range strings.ToLower(column) {
		if r == '_' {
			upperNext = b.Len() > 0
			continue
		}
		if upperNext {
			r = unicode.ToUpper(r)
			upperNext = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
