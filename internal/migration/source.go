package migration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rflorenc/chef-migration-workbench/internal/chef"
	"github.com/rflorenc/chef-migration-workbench/internal/chefserver"
	"github.com/rflorenc/chef-migration-workbench/internal/ir"
)

// Source supplies the cookbooks and inventory a migration converts.
type Source interface {
	// Units loads and parses the selected cookbooks.
	Units(ctx context.Context) ([]ir.Unit, *SourceReport, error)
	// Hosts returns the inventory hosts discovered on the source.
	Hosts(ctx context.Context) ([]ir.Host, error)
}

// SourceReport carries what loading could not convert: parse warnings
// and the count of resources that failed to parse outright.
type SourceReport struct {
	Warnings        []string
	FailedResources int
}

func (r *SourceReport) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *SourceReport) addParse(result *chef.RecipeResult) {
	for _, w := range result.Warnings {
		r.warnf("%s:%d: %s", w.Source, w.Line, w.Message)
	}
	for _, f := range result.Failures {
		r.warnf("%s:%d: %v", f.Source, f.Line, f.Err)
		r.FailedResources++
	}
}

// DirSource loads cookbooks from a local directory tree laid out the
// standard way: <root>/<cookbook>/{metadata.rb,attributes/,recipes/}.
type DirSource struct {
	Root      string
	Cookbooks []string // empty selects every subdirectory
}

// Units implements Source.
func (s *DirSource) Units(ctx context.Context) ([]ir.Unit, *SourceReport, error) {
	report := &SourceReport{}
	names := s.Cookbooks
	if len(names) == 0 {
		entries, err := os.ReadDir(s.Root)
		if err != nil {
			return nil, nil, fmt.Errorf("migration: reading cookbook root: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)

	var units []ir.Unit
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		unit, err := s.loadCookbook(name, report)
		if err != nil {
			return nil, nil, err
		}
		units = append(units, *unit)
	}
	return units, report, nil
}

// Hosts implements Source. Local cookbook trees carry no inventory.
func (s *DirSource) Hosts(context.Context) ([]ir.Host, error) {
	return nil, nil
}

func (s *DirSource) loadCookbook(name string, report *SourceReport) (*ir.Unit, error) {
	dir := filepath.Join(s.Root, name)
	unit := &ir.Unit{Name: name}

	if data, err := os.ReadFile(filepath.Join(dir, "metadata.rb")); err == nil {
		md, warnings := chef.ParseMetadata(name+"/metadata.rb", string(data))
		for _, w := range warnings {
			report.warnf("%s:%d: %s", w.Source, w.Line, w.Message)
		}
		if md.Name != "" {
			unit.Name = md.Name
		}
		unit.DependsOn = sortedKeys(md.Depends)
	}

	var decls []chef.AttributeDeclaration
	for _, f := range rubyFiles(filepath.Join(dir, "attributes")) {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("migration: reading %s: %w", f, err)
		}
		src := name + "/attributes/" + filepath.Base(f)
		fileDecls, warnings := chef.ParseAttributesFile(src, string(data))
		for _, w := range warnings {
			report.warnf("%s:%d: %s", w.Source, w.Line, w.Message)
		}
		decls = append(decls, fileDecls...)
	}
	unit.Attributes = chef.Resolve(decls)

	for _, f := range rubyFiles(filepath.Join(dir, "recipes")) {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("migration: reading %s: %w", f, err)
		}
		base := strings.TrimSuffix(filepath.Base(f), ".rb")
		src := name + "/recipes/" + filepath.Base(f)
		result := chef.ParseRecipe(src, string(data))
		report.addParse(result)
		unit.Recipes = append(unit.Recipes, ir.Recipe{Name: base, Resources: result.Resources})
	}
	return unit, nil
}

// rubyFiles lists *.rb files under dir in lexical order. A missing
// directory yields nothing.
func rubyFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".rb") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files
}

// ServerSource loads cookbooks and nodes from a live Chef server.
type ServerSource struct {
	Chef      *chefserver.Client
	Cookbooks []string
	NodeQuery string // defaults to "*:*"
}

// Units implements Source: the latest version of each selected
// cookbook, recipes and attribute files downloaded and parsed.
func (s *ServerSource) Units(ctx context.Context) ([]ir.Unit, *SourceReport, error) {
	report := &SourceReport{}
	available, err := s.Chef.ListCookbookVersions(ctx)
	if err != nil {
		return nil, nil, err
	}

	names := s.Cookbooks
	if len(names) == 0 {
		names = sortedKeysOf(available)
	}
	sort.Strings(names)

	var units []ir.Unit
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		cb, err := s.Chef.GetCookbook(ctx, name, "")
		if err != nil {
			return nil, nil, err
		}

		unit := ir.Unit{Name: cb.Name}
		unit.DependsOn = sortedKeys(cb.Metadata.Dependencies)
		for dep, constraint := range cb.Metadata.Dependencies {
			versions := available[dep]
			if len(versions) == 0 {
				report.warnf("%s depends on %s which is not on the server", cb.Name, dep)
				continue
			}
			if !chefserver.SatisfiesConstraint(versions[0], constraint) {
				report.warnf("%s wants %s %s but the server has %s", cb.Name, dep, constraint, versions[0])
			}
		}

		var decls []chef.AttributeDeclaration
		for _, f := range cb.Attributes {
			data, err := s.Chef.DownloadFile(ctx, f.URL)
			if err != nil {
				return nil, nil, err
			}
			src := cb.Name + "/" + f.Path
			fileDecls, warnings := chef.ParseAttributesFile(src, string(data))
			for _, w := range warnings {
				report.warnf("%s:%d: %s", w.Source, w.Line, w.Message)
			}
			decls = append(decls, fileDecls...)
		}
		unit.Attributes = chef.Resolve(decls)

		for _, f := range cb.Recipes {
			data, err := s.Chef.DownloadFile(ctx, f.URL)
			if err != nil {
				return nil, nil, err
			}
			base := strings.TrimSuffix(f.Name, ".rb")
			result := chef.ParseRecipe(cb.Name+"/"+f.Path, string(data))
			report.addParse(result)
			unit.Recipes = append(unit.Recipes, ir.Recipe{Name: base, Resources: result.Resources})
		}
		units = append(units, unit)
	}
	return units, report, nil
}

// Hosts implements Source: every node matching the query becomes an
// inventory host, with its attributes resolved across all precedence
// levels and its run list turned into group memberships.
func (s *ServerSource) Hosts(ctx context.Context) ([]ir.Host, error) {
	query := s.NodeQuery
	if query == "" {
		query = "*:*"
	}
	nodes, err := s.Chef.SearchNodes(ctx, query)
	if err != nil {
		return nil, err
	}
	hosts := make([]ir.Host, 0, len(nodes))
	for _, n := range nodes {
		hosts = append(hosts, NodeToHost(&n))
	}
	return hosts, nil
}

// NodeToHost converts a Chef node to an inventory host. The four
// server-side attribute maps resolve with the usual precedence:
// default < normal < override < automatic.
func NodeToHost(n *chefserver.Node) ir.Host {
	var decls []chef.AttributeDeclaration
	decls = append(decls, mapToDecls(chef.PrecDefault, n.Default)...)
	decls = append(decls, mapToDecls(chef.PrecNormal, n.Normal)...)
	decls = append(decls, mapToDecls(chef.PrecOverride, n.Override)...)
	decls = append(decls, mapToDecls(chef.PrecAutomatic, n.Automatic)...)
	resolved := chef.Resolve(decls)

	host := ir.Host{
		Name: n.Name,
		Vars: ir.FlattenAttributes(resolved),
	}
	if n.Environment != "" && n.Environment != "_default" {
		host.Groups = append(host.Groups, n.Environment)
	}
	for _, item := range n.RunList {
		kind, name := chefserver.ParseRunListItem(item)
		switch kind {
		case "recipe":
			// nginx::default and nginx map to the same group.
			if idx := strings.Index(name, "::"); idx >= 0 {
				name = name[:idx]
			}
			host.Groups = appendUnique(host.Groups, name)
		case "role":
			host.Groups = appendUnique(host.Groups, "role_"+name)
		}
	}
	return host
}

func mapToDecls(prec chef.Precedence, m map[string]any) []chef.AttributeDeclaration {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	decls := make([]chef.AttributeDeclaration, 0, len(keys))
	for _, k := range keys {
		decls = append(decls, chef.AttributeDeclaration{
			Precedence: prec,
			Path:       []string{k},
			Value:      chef.FromGo(m[k]),
		})
	}
	return decls
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysOf(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendUnique(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}
