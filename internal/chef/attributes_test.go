package chef

import (
	"reflect"
	"testing"
)

func scalarAt(t *testing.T, m *Map, path ...string) any {
	t.Helper()
	v, ok := m.Lookup(path...)
	if !ok {
		t.Fatalf("path %v not found", path)
	}
	s, ok := v.(Scalar)
	if !ok {
		t.Fatalf("path %v is %T, want Scalar", path, v)
	}
	return s.Value
}

func TestResolvePrecedenceMonotonic(t *testing.T) {
	// For every pair of levels, the higher level must win the path.
	levels := []Precedence{
		PrecDefault, PrecForceDefault, PrecNormal,
		PrecOverride, PrecForceOverride, PrecAutomatic,
	}
	for i, lo := range levels {
		for _, hi := range levels[i+1:] {
			decls := []AttributeDeclaration{
				{Precedence: lo, Path: []string{"app", "port"}, Value: Scalar{Value: 80}},
				{Precedence: hi, Path: []string{"app", "port"}, Value: Scalar{Value: 8080}},
			}
			got := scalarAt(t, Resolve(decls), "app", "port")
			if got != 8080 {
				t.Errorf("%v vs %v: resolved %v, want 8080 (higher level)", lo, hi, got)
			}
			// Registration order must not matter across levels.
			got = scalarAt(t, Resolve([]AttributeDeclaration{decls[1], decls[0]}), "app", "port")
			if got != 8080 {
				t.Errorf("%v vs %v reversed: resolved %v, want 8080", lo, hi, got)
			}
		}
	}
}

func TestResolveSameLevelLaterWins(t *testing.T) {
	decls := []AttributeDeclaration{
		{Precedence: PrecDefault, Path: []string{"app", "name"}, Value: Scalar{Value: "first"}},
		{Precedence: PrecDefault, Path: []string{"app", "name"}, Value: Scalar{Value: "second"}},
	}
	if got := scalarAt(t, Resolve(decls), "app", "name"); got != "second" {
		t.Errorf("resolved %v, want second (later registration)", got)
	}
}

func TestResolveDeepMerge(t *testing.T) {
	lowTree := NewMap()
	lowTree.Set("port", Scalar{Value: 80})
	lowTree.Set("host", Scalar{Value: "localhost"})
	highTree := NewMap()
	highTree.Set("port", Scalar{Value: 8080})

	decls := []AttributeDeclaration{
		{Precedence: PrecDefault, Path: []string{"app"}, Value: lowTree},
		{Precedence: PrecOverride, Path: []string{"app"}, Value: highTree},
	}
	resolved := Resolve(decls)

	// Maps merge key-wise: the override replaces port, host survives.
	if got := scalarAt(t, resolved, "app", "port"); got != 8080 {
		t.Errorf("port = %v, want 8080", got)
	}
	if got := scalarAt(t, resolved, "app", "host"); got != "localhost" {
		t.Errorf("host = %v, want localhost", got)
	}
}

func TestResolveScalarOverwritesMap(t *testing.T) {
	tree := NewMap()
	tree.Set("nested", Scalar{Value: 1})
	decls := []AttributeDeclaration{
		{Precedence: PrecDefault, Path: []string{"x"}, Value: tree},
		{Precedence: PrecOverride, Path: []string{"x"}, Value: Scalar{Value: "flat"}},
	}
	if got := scalarAt(t, Resolve(decls), "x"); got != "flat" {
		t.Errorf("x = %v, want flat", got)
	}

	// And the other way: a higher-level map replaces a scalar.
	decls = []AttributeDeclaration{
		{Precedence: PrecDefault, Path: []string{"y"}, Value: Scalar{Value: "flat"}},
		{Precedence: PrecOverride, Path: []string{"y", "nested"}, Value: Scalar{Value: 2}},
	}
	if got := scalarAt(t, Resolve(decls), "y", "nested"); got != 2 {
		t.Errorf("y.nested = %v, want 2", got)
	}
}

func TestResolveListOverwrites(t *testing.T) {
	decls := []AttributeDeclaration{
		{Precedence: PrecDefault, Path: []string{"pkgs"}, Value: List{Items: []AttrValue{Scalar{Value: "a"}, Scalar{Value: "b"}}}},
		{Precedence: PrecNormal, Path: []string{"pkgs"}, Value: List{Items: []AttrValue{Scalar{Value: "c"}}}},
	}
	v, ok := Resolve(decls).Lookup("pkgs")
	if !ok {
		t.Fatal("pkgs not found")
	}
	l, ok := v.(List)
	if !ok || len(l.Items) != 1 {
		t.Fatalf("pkgs = %v, want single-item list", v)
	}
}

func TestParseAttributesFile(t *testing.T) {
	text := `
# App defaults
default['app']['port'] = 80
default['app']['name'] = 'frontend'
override['app']['port'] = 8080
force_override['debug'] = true
node.normal['tags'] = ['web', 'prod']
automatic['platform'] = 'ubuntu'
not_an_attribute_line
include_recipe 'other'
`
	decls, warnings := ParseAttributesFile("attributes/default.rb", text)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(decls) != 6 {
		t.Fatalf("got %d declarations, want 6", len(decls))
	}

	wantPrec := []Precedence{
		PrecDefault, PrecDefault, PrecOverride, PrecForceOverride, PrecNormal, PrecAutomatic,
	}
	for i, d := range decls {
		if d.Precedence != wantPrec[i] {
			t.Errorf("decl %d precedence = %v, want %v", i, d.Precedence, wantPrec[i])
		}
	}
	if !reflect.DeepEqual(decls[0].Path, []string{"app", "port"}) {
		t.Errorf("decl 0 path = %v", decls[0].Path)
	}
}

func TestAttributeFileEndToEnd(t *testing.T) {
	// default then override for the same path: override wins.
	text := "default[\"app\"][\"port\"] = 80\noverride[\"app\"][\"port\"] = 8080\n"
	decls, _ := ParseAttributesFile("attributes/default.rb", text)
	resolved := Resolve(decls)
	if got := scalarAt(t, resolved, "app", "port"); got != 8080 {
		t.Errorf("app.port = %v, want 8080", got)
	}
}

func TestMapInsertionOrder(t *testing.T) {
	m := NewMap()
	m.Set("b", Scalar{Value: 1})
	m.Set("a", Scalar{Value: 2})
	m.Set("b", Scalar{Value: 3}) // replace keeps position
	if got := m.Keys(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("keys = %v, want [b a]", got)
	}
}
