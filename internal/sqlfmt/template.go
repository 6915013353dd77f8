package sqlfmt

import "strings"

// Substitute replaces :name placeholders in tmpl with literals rendered from
// params. A missing key renders as NULL. A name must start with a letter and
// continue with letters or digits; "::" casts are left alone.
func (f *Formatter) Substitute(tmpl string, params map[string]any) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != ':' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(tmpl) && tmpl[i+1] == ':' {
			b.WriteString("::")
			i++
			continue
		}
		if i+1 >= len(tmpl) || !isLetter(tmpl[i+1]) {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(tmpl) && (isLetter(tmpl[j]) || isDigit(tmpl[j])) {
			j++
		}
		name := tmpl[i+1 : j]
		lit, err := f.Value(params[name], name)
		if err != nil {
			return "", err
		}
		b.WriteString(lit)
		i = j - 1
	}
	return b.String(), nil
}

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
