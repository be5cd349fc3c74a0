package ansible

import (
	"fmt"
	"strings"

	"github.com/rflorenc/chef-migration-workbench/internal/chef"
)

// guardTranslator walks guard expressions and accumulates the command
// prechecks they need. Shell guards have no pure Jinja equivalent, so
// each one becomes a registered command task whose exit code the `when`
// clause inspects.
type guardTranslator struct {
	seq  int
	next int
	pre  []Task
}

// translateGuards converts a resource's guards into precheck tasks plus
// `when` clauses. only_if keeps the condition as-is; not_if negates it.
// Sub-clauses of a top-level AND stay separate entries so the rendered
// `when` list reads like the original guards.
func translateGuards(guards []chef.Guard, seq int) (pre []Task, when []string) {
	tr := &guardTranslator{seq: seq}
	for _, g := range guards {
		negate := g.Kind == chef.GuardNotIf
		if and, ok := g.Expr.(chef.CompoundAnd); ok && !negate {
			for _, sub := range and.Exprs {
				when = append(when, tr.clause(sub))
			}
			continue
		}
		c := tr.clause(g.Expr)
		if negate {
			c = "not (" + c + ")"
		}
		when = append(when, c)
	}
	return tr.pre, when
}

func (tr *guardTranslator) clause(e chef.GuardExpr) string {
	switch t := e.(type) {
	case chef.FileTest:
		kind := "exists"
		if t.Directory {
			kind = "is_dir"
		}
		c := fmt.Sprintf("'%s' is %s", t.Path, kind)
		if t.Negated {
			return "not (" + c + ")"
		}
		return c
	case chef.PropertyComparison:
		return fmt.Sprintf("%s %s %s", nodePathToVar(t.Left), t.Op, jinjaLiteral(t.Right))
	case chef.ShellCommand:
		reg := tr.register(t.Command)
		return reg + ".rc == 0"
	case chef.CompoundAnd:
		return tr.joinClauses(t.Exprs, " and ")
	case chef.CompoundOr:
		return tr.joinClauses(t.Exprs, " or ")
	}
	return "false"
}

func (tr *guardTranslator) joinClauses(exprs []chef.GuardExpr, sep string) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = "(" + tr.clause(e) + ")"
	}
	return strings.Join(parts, sep)
}

// register emits the precheck command task for a shell guard and
// returns the variable it registers.
func (tr *guardTranslator) register(cmd string) string {
	name := fmt.Sprintf("guard_%d_%d", tr.seq, tr.next)
	tr.next++
	tr.pre = append(tr.pre, Task{
		Name:        "Check guard: " + cmd,
		Module:      "ansible.builtin.command",
		Params:      []Param{{Key: "cmd", Value: cmd}},
		Register:    name,
		ChangedWhen: "false",
		FailedWhen:  "false",
	})
	return name
}

// nodePathToVar rewrites a Chef attribute reference like
// node['app']['port'] (or node.app.port) into the dotted Ansible
// variable the inventory mapping produces.
func nodePathToVar(ref string) string {
	s := strings.TrimSpace(ref)
	if !strings.HasPrefix(s, "node") {
		return s
	}
	rest := s[len("node"):]
	if rest == "" {
		return s
	}
	if rest[0] == '.' {
		return rest[1:]
	}
	var segs []string
	for strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return s
		}
		seg := strings.Trim(rest[1:end], `'"`)
		segs = append(segs, seg)
		rest = rest[end+1:]
	}
	if len(segs) == 0 || rest != "" {
		return s
	}
	return strings.Join(segs, ".")
}

// jinjaLiteral keeps Ruby string/py-compatible literals usable in a
// Jinja expression. Single-quoted Ruby strings pass through unchanged.
func jinjaLiteral(v string) string {
	s := strings.TrimSpace(v)
	if strings.HasPrefix(s, "node") {
		return nodePathToVar(s)
	}
	return s
}
