package chef

import (
	"errors"
	"fmt"
	"strings"
)

// maxResourceBytes caps a single resource block. Oversized blocks are
// rejected rather than scanned.
const maxResourceBytes = 15 * 1024

// RecipeResult is the outcome of parsing one recipe file.
type RecipeResult struct {
	Source    string         `json:"source"`
	Resources []Resource     `json:"resources"`
	Warnings  []ParseWarning `json:"warnings,omitempty"`
	Failures  []ParseFailure `json:"failures,omitempty"`
}

// Non-resource directives that look like resource heads but are not.
var headDirectives = map[string]bool{
	"include_recipe":   true,
	"require":          true,
	"require_relative": true,
	"depends":          true,
	"provides":         true,
	"property":         true,
	"attribute":        true,
	"puts":             true,
	"raise":            true,
	"extend":           true,
	"include":          true,
}

// ParseRecipe extracts typed resource declarations from recipe text.
// The source argument is a path label used in warnings; the parser
// itself never touches the filesystem. Per-resource failures are
// recorded and parsing continues with the next top-level statement; a
// parse timeout aborts the remainder of the recipe.
func ParseRecipe(source, text string) *RecipeResult {
	res := &RecipeResult{Source: source}

	off := 0
	lineNo := 0
	for off < len(text) {
		lineEnd := len(text)
		if nl := strings.IndexByte(text[off:], '\n'); nl >= 0 {
			lineEnd = off + nl
		}
		lineNo++
		rawLine := text[off:lineEnd]
		nextOff := lineEnd + 1

		line := strings.TrimSpace(stripInlineComment(rawLine))
		if line == "" || strings.HasPrefix(line, "#") {
			off = nextOff
			continue
		}

		head, ok := parseResourceHead(line)
		if !ok {
			off = nextOff
			continue
		}

		if !head.hasBlock {
			r := buildResource(head, source, lineNo)
			if r.Kind == KindUnknown {
				res.Warnings = append(res.Warnings, ParseWarning{
					Source: source, Line: lineNo,
					Message: fmt.Sprintf("unrecognized resource type %q, tagged unknown", head.typeName),
				})
			}
			res.Resources = append(res.Resources, r)
			off = nextOff
			continue
		}

		doOff := off + lastWordIndex(stripInlineComment(rawLine), "do")
		endOff, err := MatchDoEnd(text, doOff)
		if err != nil {
			res.Failures = append(res.Failures, ParseFailure{
				Source: source, Line: lineNo, Head: line, Err: err,
			})
			if errors.Is(err, ErrParseTimeout) {
				return res
			}
			off = nextOff
			continue
		}
		if endOff-off > maxResourceBytes {
			res.Failures = append(res.Failures, ParseFailure{
				Source: source, Line: lineNo, Head: line, Err: ErrResourceTooLarge,
			})
			lineNo += strings.Count(text[off:endOff], "\n")
			off = endOff + len("end")
			continue
		}

		body := text[doOff+len("do") : endOff]
		r := buildResource(head, source, lineNo)
		if r.Kind == KindUnknown {
			res.Warnings = append(res.Warnings, ParseWarning{
				Source: source, Line: lineNo,
				Message: fmt.Sprintf("unrecognized resource type %q, tagged unknown", head.typeName),
			})
		}
		warns := parseResourceBody(&r, body, source, lineNo)
		res.Warnings = append(res.Warnings, warns...)
		res.Resources = append(res.Resources, r)

		lineNo += strings.Count(text[off:endOff], "\n")
		off = endOff + len("end")
	}
	return res
}

// resourceHead is a parsed resource declaration line.
type resourceHead struct {
	typeName   string
	name       string
	hasBlock   bool
	inlineArgs string // remainder after the name on single-line forms
}

// parseResourceHead recognizes `type 'name' do`, `type 'name'` and the
// single-line `type 'name', key: value` forms.
func parseResourceHead(line string) (resourceHead, bool) {
	i := 0
	for i < len(line) && (isIdentByte(line[i])) {
		i++
	}
	if i == 0 {
		return resourceHead{}, false
	}
	typeName := line[:i]
	if headDirectives[typeName] {
		return resourceHead{}, false
	}
	if typeName[0] >= '0' && typeName[0] <= '9' {
		return resourceHead{}, false
	}

	rest := strings.TrimSpace(line[i:])
	if rest == "" || (rest[0] != '\'' && rest[0] != '"') {
		return resourceHead{}, false
	}
	q := rest[0]
	closeQ := -1
	for j := 1; j < len(rest); j++ {
		if rest[j] == q && !isEscaped(rest, j) {
			closeQ = j
			break
		}
	}
	if closeQ < 0 {
		return resourceHead{}, false
	}
	name := unquote(rest[:closeQ+1])
	tail := strings.TrimSpace(rest[closeQ+1:])

	switch {
	case tail == "do":
		return resourceHead{typeName: typeName, name: name, hasBlock: true}, true
	case tail == "":
		return resourceHead{typeName: typeName, name: name}, true
	case strings.HasPrefix(tail, ","):
		return resourceHead{typeName: typeName, name: name, inlineArgs: strings.TrimSpace(tail[1:])}, true
	}
	return resourceHead{}, false
}

// buildResource creates a Resource from a head, applying inline args on
// the single-line form.
func buildResource(head resourceHead, source string, line int) Resource {
	r := Resource{
		Kind:   KindFromType(head.typeName),
		Type:   head.typeName,
		Name:   head.name,
		Source: source,
		Line:   line,
	}
	if head.inlineArgs == "" {
		return r
	}
	args, err := splitTopLevel(head.inlineArgs, ',')
	if err != nil {
		return r
	}
	for _, a := range args {
		a = strings.TrimSpace(a)
		key, val, found := strings.Cut(a, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if key == "action" {
			r.Action = actionString(parseRubyValue(val))
			continue
		}
		r.Properties = append(r.Properties, Property{Name: key, Value: parseRubyValue(val)})
	}
	return r
}

// parseResourceBody fills properties, action, guards and notifications
// from the block body. headLine is the line number of the resource head
// within the recipe.
func parseResourceBody(r *Resource, body, source string, headLine int) []ParseWarning {
	var warnings []ParseWarning
	var guards []Guard

	off := 0
	rel := 0 // newlines consumed inside body
	for off < len(body) {
		lineEnd := len(body)
		if nl := strings.IndexByte(body[off:], '\n'); nl >= 0 {
			lineEnd = off + nl
		}
		rel++
		rawLine := body[off:lineEnd]
		nextOff := lineEnd + 1
		lineNo := headLine + rel - 1

		line := strings.TrimSpace(stripInlineComment(rawLine))
		if line == "" || strings.HasPrefix(line, "#") {
			off = nextOff
			continue
		}

		word := firstWord(line)
		rest := strings.TrimSpace(line[len(word):])

		switch word {
		case "action":
			r.Action = actionString(parseRubyValue(rest))
			off = nextOff

		case "only_if", "not_if":
			kind := GuardOnlyIf
			if word == "not_if" {
				kind = GuardNotIf
			}
			g, consumed, err := parseGuardClause(kind, body, off, rest, rawLine)
			if err != nil {
				warnings = append(warnings, ParseWarning{
					Source: source, Line: lineNo,
					Message: fmt.Sprintf("%s guard dropped: %v", word, err),
				})
			} else {
				guards = append(guards, g)
			}
			if consumed > nextOff {
				rel += strings.Count(body[off:consumed], "\n")
				off = consumed
			} else {
				off = nextOff
			}

		case "notifies", "subscribes":
			n, err := parseNotification(rest)
			if err != nil {
				warnings = append(warnings, ParseWarning{
					Source: source, Line: lineNo,
					Message: fmt.Sprintf("malformed %s clause: %v", word, err),
				})
			} else {
				r.Notifications = append(r.Notifications, n)
			}
			off = nextOff

		case "code", "content":
			// Heredoc bodies span to a terminator line.
			if term, ok := heredocTerminator(rest); ok {
				content, consumed := readHeredoc(body, nextOff, term)
				r.Properties = append(r.Properties, Property{Name: word, Value: content})
				rel += strings.Count(body[nextOff:consumed], "\n")
				off = consumed
				continue
			}
			r.Properties = append(r.Properties, Property{Name: word, Value: parseRubyValue(rest)})
			off = nextOff

		default:
			if rest == "" {
				off = nextOff
				continue
			}
			r.Properties = append(r.Properties, Property{Name: word, Value: parseRubyValue(rest)})
			off = nextOff
		}
	}

	r.Guards = mergeGuards(guards)
	return warnings
}

// parseGuardClause normalizes one of the four guard source forms. It
// returns the guard and the body offset just past any multi-line block
// it consumed (0 when the clause fit on its line).
func parseGuardClause(kind GuardKind, body string, lineOff int, rest, rawLine string) (Guard, int, error) {
	switch {
	case strings.HasPrefix(rest, "{"):
		open := lineOff + strings.IndexByte(rawLine, '{')
		closeOff, err := MatchBrace(body, open)
		if err != nil {
			return Guard{}, 0, err
		}
		expr, err := ParseGuardExpr(body[open+1 : closeOff])
		if err != nil {
			return Guard{}, 0, err
		}
		return Guard{Kind: kind, Expr: expr}, closeOff + 1, nil

	case rest == "do" || strings.HasPrefix(rest, "do "):
		open := lineOff + lastWordIndex(rawLine, "do")
		endOff, err := MatchDoEnd(body, open)
		if err != nil {
			return Guard{}, 0, err
		}
		expr, err := ParseGuardExpr(body[open+len("do") : endOff])
		if err != nil {
			return Guard{}, 0, err
		}
		return Guard{Kind: kind, Expr: expr}, endOff + len("end"), nil

	case strings.HasPrefix(rest, "["):
		open := lineOff + strings.IndexByte(rawLine, '[')
		closeOff, err := matchDelim(body, open, '[', ']')
		if err != nil {
			return Guard{}, 0, err
		}
		g, err := guardFromArray(kind, body[open+1:closeOff])
		if err != nil {
			return Guard{}, 0, err
		}
		return g, closeOff + 1, nil

	default:
		expr, err := ParseGuardExpr(rest)
		if err != nil {
			return Guard{}, 0, err
		}
		return Guard{Kind: kind, Expr: expr}, 0, nil
	}
}

// parseNotification parses `:restart, 'service[nginx]', :delayed`.
// Timing defaults to delayed, matching the platform's own default.
func parseNotification(rest string) (Notification, error) {
	parts, err := splitTopLevel(rest, ',')
	if err != nil {
		return Notification{}, err
	}
	if len(parts) < 2 {
		return Notification{}, fmt.Errorf("expected at least action and target")
	}
	action, _ := parseRubyValue(parts[0]).(string)
	target, _ := parseRubyValue(parts[1]).(string)
	if action == "" || target == "" {
		return Notification{}, fmt.Errorf("expected symbol action and quoted target")
	}
	timing := "delayed"
	if len(parts) >= 3 {
		if t, ok := parseRubyValue(parts[2]).(string); ok && t != "" {
			timing = t
		}
	}
	return Notification{Action: action, Target: target, Timing: timing}, nil
}

// actionString renders a parsed action value, joining action arrays.
func actionString(v any) string {
	switch a := v.(type) {
	case string:
		return a
	case []any:
		parts := make([]string, 0, len(a))
		for _, item := range a {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	}
	return ""
}

// heredocTerminator recognizes <<-EOH / <<~EOH / <<EOH openers.
func heredocTerminator(rest string) (string, bool) {
	if !strings.HasPrefix(rest, "<<") {
		return "", false
	}
	term := strings.TrimLeft(rest[2:], "-~")
	term = strings.Trim(term, "'\"")
	if term == "" || !isIdentByte(term[0]) {
		return "", false
	}
	for i := 0; i < len(term); i++ {
		if !isIdentByte(term[i]) {
			return "", false
		}
	}
	return term, true
}

// readHeredoc collects lines until the terminator, returning the
// content and the offset past the terminator line.
func readHeredoc(body string, off int, term string) (string, int) {
	var lines []string
	for off < len(body) {
		lineEnd := len(body)
		if nl := strings.IndexByte(body[off:], '\n'); nl >= 0 {
			lineEnd = off + nl
		}
		line := body[off:lineEnd]
		if strings.TrimSpace(line) == term {
			return strings.Join(lines, "\n"), lineEnd + 1
		}
		lines = append(lines, strings.TrimRight(line, "\r"))
		off = lineEnd + 1
	}
	return strings.Join(lines, "\n"), len(body)
}

// firstWord returns the leading identifier of a trimmed line.
func firstWord(line string) string {
	i := 0
	for i < len(line) && isIdentByte(line[i]) {
		i++
	}
	return line[:i]
}

// lastWordIndex returns the byte index of the last occurrence of word
// with word boundaries, or 0 if absent.
func lastWordIndex(s, word string) int {
	for i := len(s) - len(word); i >= 0; i-- {
		if hasWordAt(s, i, word) {
			return i
		}
	}
	return 0
}
