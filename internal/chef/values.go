package chef

import (
	"strconv"
	"strings"
)

// parseRubyValue converts a literal token from a recipe or attribute
// file into a Go value. Quoted strings are unwrapped, numbers and
// booleans converted, :symbols stripped to their name, and bracketed
// arrays parsed element-wise. Anything unrecognized (method calls,
// node[...] references, interpolation) is kept as the raw string.
func parseRubyValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "nil":
		return nil
	}
	if c := s[0]; (c == '\'' || c == '"') && len(s) >= 2 && s[len(s)-1] == c {
		return unquote(s)
	}
	if s[0] == ':' && len(s) > 1 && !strings.ContainsAny(s, " \t") {
		return s[1:]
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if s[0] == '[' && s[len(s)-1] == ']' {
		parts, err := splitTopLevel(s[1:len(s)-1], ',')
		if err != nil {
			return s
		}
		items := make([]any, 0, len(parts))
		for _, p := range parts {
			if strings.TrimSpace(p) == "" {
				continue
			}
			items = append(items, parseRubyValue(p))
		}
		return items
	}
	return s
}

// unquote strips matching quotes and resolves backslash escapes.
func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	q := s[0]
	body := s[1 : len(s)-1]
	if !strings.ContainsRune(body, '\\') {
		return body
	}
	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '\\' && i+1 < len(body) {
			next := body[i+1]
			switch {
			case next == q || next == '\\':
				b.WriteByte(next)
				i++
				continue
			case q == '"' && next == 'n':
				b.WriteByte('\n')
				i++
				continue
			case q == '"' && next == 't':
				b.WriteByte('\t')
				i++
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// splitTopLevel splits s on the separator, ignoring separators nested
// inside quotes, parentheses, brackets or braces. This is the
// bracket-depth scan used for guard arrays and notifies arguments; a
// naive split-on-comma would break inside quoted or nested spans.
func splitTopLevel(s string, sep byte) ([]string, error) {
	var (
		parts []string
		st    quoteState
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		if st.consume(s, i) {
			continue
		}
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth < 0 {
				return nil, ErrGuardSyntax
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if st.inSingle || st.inDouble || depth != 0 {
		return nil, ErrGuardSyntax
	}
	parts = append(parts, s[start:])
	return parts, nil
}

// stripInlineComment removes a trailing # comment, respecting quoted
// spans.
func stripInlineComment(line string) string {
	var st quoteState
	for i := 0; i < len(line); i++ {
		if st.consume(line, i) {
			continue
		}
		if line[i] == '#' {
			return line[:i]
		}
	}
	return line
}
