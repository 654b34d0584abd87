package claims

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sanitize strips characters the intake rejects from every string in v:
// invalid UTF-8, NUL and other control characters except tab and newlines.
// Keys are cleaned too. The value is modified in place where possible.
func Sanitize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			clean := sanitizeString(k)
			if clean != k {
				delete(t, k)
			}
			t[clean] = Sanitize(val)
		}
		return t
	case Bundle:
		Sanitize(map[string]interface{}(t))
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = Sanitize(val)
		}
		return t
	case string:
		return sanitizeString(t)
	default:
		return v
	}
}

func sanitizeString(s string) string {
	if utf8.ValidString(s) && strings.IndexFunc(s, illegal) < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r == utf8.RuneError && size == 1 {
			continue
		}
		if illegal(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func illegal(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r) || r == '￾' || r == '￿'
}
