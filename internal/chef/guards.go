package chef

import (
	"fmt"
	"strings"
)

// GuardExpr is the normalized form of a guard condition. The four
// source forms (inline expression, string array, brace block, do/end
// block) all reduce to this variant tree.
type GuardExpr interface {
	guardExpr()
	String() string
}

// ShellCommand is a guard that passes when the command exits zero.
type ShellCommand struct {
	Command string `json:"command"`
}

// FileTest is a file-existence (or directory) check.
type FileTest struct {
	Path      string `json:"path"`
	Directory bool   `json:"directory,omitempty"`
	Negated   bool   `json:"negated,omitempty"`
}

// PropertyComparison compares a node attribute or literal against a
// value with a comparison operator.
type PropertyComparison struct {
	Left  string `json:"left"`
	Op    string `json:"op"`
	Right string `json:"right"`
}

// CompoundAnd passes when every sub-expression passes.
type CompoundAnd struct {
	Exprs []GuardExpr `json:"exprs"`
}

// CompoundOr passes when any sub-expression passes.
type CompoundOr struct {
	Exprs []GuardExpr `json:"exprs"`
}

func (ShellCommand) guardExpr()       {}
func (FileTest) guardExpr()           {}
func (PropertyComparison) guardExpr() {}
func (CompoundAnd) guardExpr()        {}
func (CompoundOr) guardExpr()         {}

func (e ShellCommand) String() string { return fmt.Sprintf("shell(%s)", e.Command) }

func (e FileTest) String() string {
	kind := "exists"
	if e.Directory {
		kind = "directory"
	}
	if e.Negated {
		return fmt.Sprintf("!file-%s(%s)", kind, e.Path)
	}
	return fmt.Sprintf("file-%s(%s)", kind, e.Path)
}

func (e PropertyComparison) String() string {
	return fmt.Sprintf("cmp(%s %s %s)", e.Left, e.Op, e.Right)
}

func (e CompoundAnd) String() string { return joinExprs("and", e.Exprs) }
func (e CompoundOr) String() string  { return joinExprs("or", e.Exprs) }

func joinExprs(op string, exprs []GuardExpr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

// ParseGuardExpr normalizes the text of a guard condition into a
// GuardExpr tree. && and || split at top level (never inside quotes or
// parentheses), File existence tests and comparisons are recognized,
// and everything else falls back to a shell command.
func ParseGuardExpr(text string) (GuardExpr, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, ErrGuardSyntax
	}

	if parts, err := splitOnOperator(s, "||"); err != nil {
		return nil, err
	} else if len(parts) > 1 {
		return compoundFromParts(parts, func(exprs []GuardExpr) GuardExpr {
			return CompoundOr{Exprs: exprs}
		})
	}

	if parts, err := splitOnOperator(s, "&&"); err != nil {
		return nil, err
	} else if len(parts) > 1 {
		return compoundFromParts(parts, func(exprs []GuardExpr) GuardExpr {
			return CompoundAnd{Exprs: exprs}
		})
	}

	s = stripOuterParens(s)

	negated := false
	if strings.HasPrefix(s, "!") && !strings.HasPrefix(s, "!=") {
		negated = true
		s = strings.TrimSpace(s[1:])
		s = stripOuterParens(s)
	}

	if ft, ok := parseFileTest(s, negated); ok {
		return ft, nil
	}

	if cmp, ok := parseComparison(s); ok {
		if negated {
			cmp.Op = invertOp(cmp.Op)
		}
		return cmp, nil
	}

	if cmd, ok := parseSystemCall(s); ok {
		return ShellCommand{Command: cmd}, nil
	}

	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return ShellCommand{Command: unquote(s)}, nil
	}

	// Attribute truthiness test, e.g. `node['app']['enabled']`.
	if strings.HasPrefix(s, "node[") || strings.HasPrefix(s, "node.") {
		op := "=="
		if negated {
			op = "!="
		}
		return PropertyComparison{Left: s, Op: op, Right: "true"}, nil
	}

	if err := checkBalanced(s); err != nil {
		return nil, err
	}
	return ShellCommand{Command: s}, nil
}

func compoundFromParts(parts []string, wrap func([]GuardExpr) GuardExpr) (GuardExpr, error) {
	exprs := make([]GuardExpr, 0, len(parts))
	for _, p := range parts {
		e, err := ParseGuardExpr(p)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	return wrap(exprs), nil
}

// guardFromArray normalizes the array form, e.g.
// only_if ['test -f /a', 'grep -q x /b']. Elements combine with AND.
func guardFromArray(kind GuardKind, inner string) (Guard, error) {
	parts, err := splitTopLevel(inner, ',')
	if err != nil {
		return Guard{}, err
	}
	var exprs []GuardExpr
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		e, err := ParseGuardExpr(p)
		if err != nil {
			return Guard{}, err
		}
		exprs = append(exprs, e)
	}
	if len(exprs) == 0 {
		return Guard{}, ErrGuardSyntax
	}
	if len(exprs) == 1 {
		return Guard{Kind: kind, Expr: exprs[0]}, nil
	}
	return Guard{Kind: kind, Expr: CompoundAnd{Exprs: exprs}}, nil
}

// mergeGuards combines multiple guards of the same kind into one
// CompoundAnd per kind, preserving first-seen order of the kinds.
func mergeGuards(guards []Guard) []Guard {
	if len(guards) < 2 {
		return guards
	}
	var order []GuardKind
	byKind := make(map[GuardKind][]GuardExpr)
	for _, g := range guards {
		if _, seen := byKind[g.Kind]; !seen {
			order = append(order, g.Kind)
		}
		byKind[g.Kind] = append(byKind[g.Kind], g.Expr)
	}
	merged := make([]Guard, 0, len(order))
	for _, k := range order {
		exprs := byKind[k]
		if len(exprs) == 1 {
			merged = append(merged, Guard{Kind: k, Expr: exprs[0]})
			continue
		}
		merged = append(merged, Guard{Kind: k, Expr: CompoundAnd{Exprs: exprs}})
	}
	return merged
}

// parseFileTest recognizes File.exist? / File.exists? / File.directory?
// calls, with or without the :: prefix.
func parseFileTest(s string, negated bool) (FileTest, bool) {
	rest := strings.TrimPrefix(s, "::")
	var directory bool
	switch {
	case strings.HasPrefix(rest, "File.exist?("), strings.HasPrefix(rest, "File.exists?("):
	case strings.HasPrefix(rest, "File.directory?("), strings.HasPrefix(rest, "Dir.exist?("):
		directory = true
	default:
		return FileTest{}, false
	}
	open := strings.IndexByte(rest, '(')
	if open < 0 || !strings.HasSuffix(rest, ")") {
		return FileTest{}, false
	}
	arg := strings.TrimSpace(rest[open+1 : len(rest)-1])
	path, ok := parseRubyValue(arg).(string)
	if !ok || path == "" {
		return FileTest{}, false
	}
	return FileTest{Path: path, Directory: directory, Negated: negated}, true
}

// parseComparison recognizes a single top-level comparison operator.
func parseComparison(s string) (PropertyComparison, bool) {
	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<"} {
		parts, err := splitOnOperator(s, op)
		if err != nil || len(parts) != 2 {
			continue
		}
		left := strings.TrimSpace(parts[0])
		right := strings.TrimSpace(parts[1])
		if left == "" || right == "" {
			continue
		}
		return PropertyComparison{Left: left, Op: op, Right: right}, true
	}
	return PropertyComparison{}, false
}

// parseSystemCall recognizes system('cmd') and system("cmd").
func parseSystemCall(s string) (string, bool) {
	if !strings.HasPrefix(s, "system(") || !strings.HasSuffix(s, ")") {
		return "", false
	}
	arg := strings.TrimSpace(s[len("system(") : len(s)-1])
	cmd, ok := parseRubyValue(arg).(string)
	if !ok || cmd == "" {
		return "", false
	}
	return cmd, true
}

func invertOp(op string) string {
	switch op {
	case "==":
		return "!="
	case "!=":
		return "=="
	case ">":
		return "<="
	case "<":
		return ">="
	case ">=":
		return "<"
	case "<=":
		return ">"
	}
	return op
}

// splitOnOperator splits on a multi-byte operator at top level,
// ignoring occurrences inside quotes or nested brackets. For the
// single-byte comparison operators it also refuses to split inside
// two-byte operators that share the byte (e.g. ">" inside ">=").
func splitOnOperator(s, op string) ([]string, error) {
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
			continue
		case ')', ']', '}':
			depth--
			if depth < 0 {
				return nil, ErrGuardSyntax
			}
			continue
		}
		if depth != 0 || i+len(op) > len(s) || s[i:i+len(op)] != op {
			continue
		}
		if len(op) == 1 {
			// Don't split ">" out of ">=", "<" out of "<=", or either
			// half of "==" / "!=".
			if i+1 < len(s) && s[i+1] == '=' {
				i++
				continue
			}
			if i > 0 && (s[i-1] == '=' || s[i-1] == '!' || s[i-1] == '<' || s[i-1] == '>') {
				continue
			}
		}
		parts = append(parts, s[start:i])
		start = i + len(op)
		i += len(op) - 1
	}
	if st.inSingle || st.inDouble || depth != 0 {
		return nil, ErrGuardSyntax
	}
	parts = append(parts, s[start:])
	if len(parts) == 1 {
		return parts, nil
	}
	return parts, nil
}

// stripOuterParens removes a single pair of enclosing parentheses when
// they wrap the whole expression.
func stripOuterParens(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		depth := 0
		wraps := true
		var st quoteState
		for i := 0; i < len(s); i++ {
			if st.consume(s, i) {
				continue
			}
			switch s[i] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 && i != len(s)-1 {
					wraps = false
				}
			}
		}
		if !wraps || depth != 0 {
			return s
		}
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// checkBalanced validates quote and bracket balance for a fallback
// shell-command guard.
func checkBalanced(s string) error {
	var st quoteState
	depth := 0
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
				return ErrGuardSyntax
			}
		}
	}
	if st.inSingle || st.inDouble || depth != 0 {
		return ErrGuardSyntax
	}
	return nil
}
