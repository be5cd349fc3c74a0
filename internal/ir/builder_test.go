package ir

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rflorenc/chef-migration-workbench/internal/chef"
)

func parseRecipe(t *testing.T, name, text string) Recipe {
	t.Helper()
	res := chef.ParseRecipe(name+".rb", text)
	if len(res.Failures) != 0 {
		t.Fatalf("parse failures: %v", res.Failures)
	}
	return Recipe{Name: name, Resources: res.Resources}
}

func TestBuildSimpleGraph(t *testing.T) {
	rec := parseRecipe(t, "default", "package 'nginx' do\n  action :install\nend\nservice 'nginx' do\n  action :start\nend\n")
	g, err := Build([]Unit{{Name: "web", Recipes: []Recipe{rec}}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	unit := g.Node(UnitID("web"))
	if unit == nil || unit.Type != NodeDependency {
		t.Fatalf("unit node = %v", unit)
	}
	recipes := g.ContainedBy(unit.ID)
	if len(recipes) != 1 {
		t.Fatalf("unit contains %d recipes, want 1", len(recipes))
	}
	resources := g.ContainedBy(recipes[0])
	if len(resources) != 2 {
		t.Fatalf("recipe contains %d resources, want 2", len(resources))
	}
	first := g.Node(resources[0])
	if first.Name != "nginx" || first.Type != NodeResource {
		t.Errorf("first resource = %+v", first)
	}
	if !reflect.DeepEqual(first.Tags, []string{"package"}) {
		t.Errorf("tags = %v", first.Tags)
	}
}

func TestBuildMigrationOrder(t *testing.T) {
	units := []Unit{
		{Name: "app", DependsOn: []string{"base", "runtime"}},
		{Name: "base"},
		{Name: "runtime", DependsOn: []string{"base"}},
	}
	g, err := Build(units, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{UnitID("base"), UnitID("runtime"), UnitID("app")}
	if !reflect.DeepEqual(g.MigrationOrder(), want) {
		t.Errorf("order = %v, want %v", g.MigrationOrder(), want)
	}

	// Same input must give the same order every time.
	for i := 0; i < 5; i++ {
		g2, err := Build(units, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(g2.MigrationOrder(), g.MigrationOrder()) {
			t.Fatalf("order not deterministic: %v vs %v", g2.MigrationOrder(), g.MigrationOrder())
		}
	}
}

func TestBuildCycleFails(t *testing.T) {
	units := []Unit{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}
	g, err := Build(units, nil)
	if g != nil {
		t.Fatal("cycle must not return a partial graph")
	}
	var cycleErr *DependencyCycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("err = %v, want DependencyCycleError", err)
	}
	want := []string{UnitID("a"), UnitID("b")}
	if !reflect.DeepEqual(cycleErr.Nodes, want) {
		t.Errorf("cycle nodes = %v, want %v", cycleErr.Nodes, want)
	}
}

func TestBuildExternalDependency(t *testing.T) {
	g, err := Build([]Unit{{Name: "app", DependsOn: []string{"apt"}}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ext := g.Node(UnitID("apt"))
	if ext == nil {
		t.Fatal("external dependency unit not represented")
	}
	if !reflect.DeepEqual(ext.Tags, []string{"external"}) {
		t.Errorf("tags = %v, want [external]", ext.Tags)
	}
	want := []string{UnitID("apt"), UnitID("app")}
	if !reflect.DeepEqual(g.MigrationOrder(), want) {
		t.Errorf("order = %v, want %v", g.MigrationOrder(), want)
	}
}

func TestBuildNotifyEdges(t *testing.T) {
	text := "template '/etc/nginx.conf' do\n  notifies :restart, 'service[nginx]', :delayed\nend\nservice 'nginx' do\n  action :start\nend\n"
	rec := parseRecipe(t, "default", text)
	g, err := Build([]Unit{{Name: "web", Recipes: []Recipe{rec}}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	var notifyEdges []Edge
	for _, e := range g.Edges {
		if e.Kind == EdgeNotifies {
			notifyEdges = append(notifyEdges, e)
		}
	}
	if len(notifyEdges) != 1 {
		t.Fatalf("got %d notify edges, want 1", len(notifyEdges))
	}
	to := g.Node(notifyEdges[0].To)
	if to == nil || to.Name != "nginx" || to.Type != NodeResource {
		t.Errorf("notify target = %+v", to)
	}
}

func TestBuildHostsAndGroups(t *testing.T) {
	hosts := []Host{
		{Name: "web01", Groups: []string{"web", "prod"}, Vars: []Variable{{Name: "port", Value: 80}}},
		{Name: "web02", Groups: []string{"web"}},
	}
	g, err := Build(nil, hosts)
	if err != nil {
		t.Fatal(err)
	}
	if g.Node(HostID("web01")) == nil || g.Node(HostID("web02")) == nil {
		t.Fatal("host nodes missing")
	}
	if g.Node(GroupID("web")) == nil || g.Node(GroupID("prod")) == nil {
		t.Fatal("group nodes missing")
	}
	memberships := 0
	for _, e := range g.Edges {
		if e.Kind == EdgeMemberOf {
			memberships++
		}
	}
	if memberships != 3 {
		t.Errorf("got %d member_of edges, want 3", memberships)
	}
}

func TestBuildUnitAttributesBecomeVariables(t *testing.T) {
	decls, _ := chef.ParseAttributesFile("a.rb", "default['app']['port'] = 80\ndefault['app']['name'] = 'x'\n")
	unit := Unit{Name: "app", Attributes: chef.Resolve(decls)}
	g, err := Build([]Unit{unit}, nil)
	if err != nil {
		t.Fatal(err)
	}
	vars := g.Node(UnitID("app")).Variables
	want := []Variable{
		{Name: "app.port", Value: 80},
		{Name: "app.name", Value: "x"},
	}
	if !reflect.DeepEqual(vars, want) {
		t.Errorf("variables = %v, want %v", vars, want)
	}
}
