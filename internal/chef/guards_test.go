package chef

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParseGuardExpr(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want GuardExpr
	}{
		{"quoted shell", "'test -f /etc/nginx.conf'", ShellCommand{Command: "test -f /etc/nginx.conf"}},
		{"bare shell", "which nginx", ShellCommand{Command: "which nginx"}},
		{"system call", "system('grep -q root /etc/passwd')", ShellCommand{Command: "grep -q root /etc/passwd"}},
		{"file exist", "::File.exist?('/etc/nginx')", FileTest{Path: "/etc/nginx"}},
		{"file exists alias", "File.exists?(\"/tmp/x\")", FileTest{Path: "/tmp/x"}},
		{"dir exist", "::File.directory?('/var/www')", FileTest{Path: "/var/www", Directory: true}},
		{"negated file test", "!::File.exist?('/etc/nginx')", FileTest{Path: "/etc/nginx", Negated: true}},
		{"comparison", "node['platform'] == 'ubuntu'", PropertyComparison{Left: "node['platform']", Op: "==", Right: "'ubuntu'"}},
		{"numeric comparison", "node['cpu']['total'] > 4", PropertyComparison{Left: "node['cpu']['total']", Op: ">", Right: "4"}},
		{"attribute truthiness", "node['app']['enabled']", PropertyComparison{Left: "node['app']['enabled']", Op: "==", Right: "true"}},
		{
			"compound and",
			"::File.exist?('/a') && node['x'] == 1",
			CompoundAnd{Exprs: []GuardExpr{FileTest{Path: "/a"}, PropertyComparison{Left: "node['x']", Op: "==", Right: "1"}}},
		},
		{
			"compound or",
			"'test -f /a' || 'test -f /b'",
			CompoundOr{Exprs: []GuardExpr{ShellCommand{Command: "test -f /a"}, ShellCommand{Command: "test -f /b"}}},
		},
		{
			"or binds looser than and",
			"'a' && 'b' || 'c'",
			CompoundOr{Exprs: []GuardExpr{
				CompoundAnd{Exprs: []GuardExpr{ShellCommand{Command: "a"}, ShellCommand{Command: "b"}}},
				ShellCommand{Command: "c"},
			}},
		},
		{"parenthesized", "(node['a'] != 'b')", PropertyComparison{Left: "node['a']", Op: "!=", Right: "'b'"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseGuardExpr(tc.in)
			if err != nil {
				t.Fatalf("ParseGuardExpr(%q) error: %v", tc.in, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ParseGuardExpr(%q)\n got  %v\n want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseGuardExprAmpInQuotes(t *testing.T) {
	// && inside a quoted string must not split.
	got, err := ParseGuardExpr("'grep -q \"a && b\" /etc/x'")
	if err != nil {
		t.Fatal(err)
	}
	sc, ok := got.(ShellCommand)
	if !ok {
		t.Fatalf("got %T, want ShellCommand", got)
	}
	if !strings.Contains(sc.Command, "a && b") {
		t.Errorf("command %q lost the quoted operator", sc.Command)
	}
}

func TestParseGuardExprErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "test -f '/unclosed", "foo(bar"} {
		if _, err := ParseGuardExpr(in); !errors.Is(err, ErrGuardSyntax) {
			t.Errorf("ParseGuardExpr(%q) = %v, want ErrGuardSyntax", in, err)
		}
	}
}

func TestSplitTopLevel(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"plain", "a, b, c", []string{"a", " b", " c"}},
		{"comma in quotes", "'a, b', c", []string{"'a, b'", " c"}},
		{"comma in braces", "{x: 1, y: 2}, z", []string{"{x: 1, y: 2}", " z"}},
		{"comma in brackets", "[1, 2], 3", []string{"[1, 2]", " 3"}},
		{"nested with quotes", "'echo {', ['a,b', 'c']", []string{"'echo {'", " ['a,b', 'c']"}},
		{"single", "lonely", []string{"lonely"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := splitTopLevel(tc.in, ',')
			if err != nil {
				t.Fatalf("splitTopLevel(%q) error: %v", tc.in, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("splitTopLevel(%q) = %q, want %q", tc.in, got, tc.want)
			}
			// Round-trip: re-joining with the separator reproduces the input.
			if rejoined := strings.Join(got, ","); rejoined != tc.in {
				t.Errorf("round-trip = %q, want %q", rejoined, tc.in)
			}
		})
	}
}

func TestGuardFromArray(t *testing.T) {
	g, err := guardFromArray(GuardOnlyIf, "'test -f /a', 'test -f /b'")
	if err != nil {
		t.Fatal(err)
	}
	and, ok := g.Expr.(CompoundAnd)
	if !ok {
		t.Fatalf("got %T, want CompoundAnd", g.Expr)
	}
	if len(and.Exprs) != 2 {
		t.Fatalf("got %d exprs, want 2", len(and.Exprs))
	}

	// A single element stays unwrapped.
	g, err = guardFromArray(GuardNotIf, "'test -f /only'")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Expr.(ShellCommand); !ok {
		t.Fatalf("got %T, want ShellCommand", g.Expr)
	}
}

func TestMergeGuards(t *testing.T) {
	guards := []Guard{
		{Kind: GuardOnlyIf, Expr: ShellCommand{Command: "a"}},
		{Kind: GuardNotIf, Expr: ShellCommand{Command: "b"}},
		{Kind: GuardOnlyIf, Expr: ShellCommand{Command: "c"}},
	}
	merged := mergeGuards(guards)
	if len(merged) != 2 {
		t.Fatalf("got %d guards, want 2", len(merged))
	}
	and, ok := merged[0].Expr.(CompoundAnd)
	if !ok || merged[0].Kind != GuardOnlyIf {
		t.Fatalf("first merged guard = %v %T", merged[0].Kind, merged[0].Expr)
	}
	if len(and.Exprs) != 2 {
		t.Errorf("only_if compound has %d exprs, want 2", len(and.Exprs))
	}
	if _, ok := merged[1].Expr.(ShellCommand); !ok || merged[1].Kind != GuardNotIf {
		t.Errorf("second merged guard = %v %T", merged[1].Kind, merged[1].Expr)
	}
}
