package ir

import (
	"fmt"
	"sort"

	"github.com/rflorenc/chef-migration-workbench/internal/chef"
)

// Recipe is one parsed recipe belonging to a unit.
type Recipe struct {
	Name      string
	Resources []chef.Resource
}

// Unit is one migration unit (a cookbook): its recipes, its resolved
// attributes and its declared dependencies on other units.
type Unit struct {
	Name       string
	Recipes    []Recipe
	Attributes *chef.Map
	DependsOn  []string
}

// Host is one inventory machine discovered on the source server.
type Host struct {
	Name   string
	Groups []string
	Vars   []Variable
}

// UnitID returns the graph ID for a unit node.
func UnitID(name string) string {
	return "unit:" + name
}

// RecipeID returns the graph ID for a recipe node.
func RecipeID(unit, recipe string) string {
	return fmt.Sprintf("recipe:%s::%s", unit, recipe)
}

// ResourceID returns the graph ID for a resource node. The index keeps
// IDs unique when a recipe declares the same resource twice.
func ResourceID(unit, recipe string, idx int, r *chef.Resource) string {
	return fmt.Sprintf("resource:%s::%s#%d:%s", unit, recipe, idx, r.ID())
}

// HostID returns the graph ID for a host node.
func HostID(name string) string {
	return "host:" + name
}

// GroupID returns the graph ID for a group node.
func GroupID(name string) string {
	return "group:" + name
}

// Build assembles units and hosts into one graph. Each resource becomes
// a resource node under a contains chain unit → recipe → resource;
// declared dependencies become depends_on edges between unit nodes;
// hosts become host nodes with member_of edges to their groups. The
// unit-level topological order is computed last; a cycle fails the
// whole build with DependencyCycleError and no graph is returned.
func Build(units []Unit, hosts []Host) (*Graph, error) {
	g := &Graph{
		Nodes:    make(map[string]*Node),
		Metadata: make(map[string]string),
	}

	unitByName := make(map[string]bool, len(units))
	for _, u := range units {
		unitByName[u.Name] = true
	}

	for _, u := range units {
		uid := UnitID(u.Name)
		if g.Nodes[uid] != nil {
			return nil, fmt.Errorf("ir: duplicate unit %q", u.Name)
		}
		g.addNode(&Node{ID: uid, Type: NodeDependency, Name: u.Name, Variables: attrVariables(u.Attributes)})

		// First resource claiming a Chef ID wins notification targets.
		targetIndex := make(map[string]string)
		type pendingNotify struct{ from, target string }
		var notifies []pendingNotify

		for _, rec := range u.Recipes {
			rid := RecipeID(u.Name, rec.Name)
			if g.Nodes[rid] != nil {
				return nil, fmt.Errorf("ir: duplicate recipe %q in unit %q", rec.Name, u.Name)
			}
			g.addNode(&Node{ID: rid, Type: NodeRecipe, Name: rec.Name})
			g.addEdge(uid, rid, EdgeContains)

			for i := range rec.Resources {
				r := &rec.Resources[i]
				nid := ResourceID(u.Name, rec.Name, i, r)
				g.addNode(&Node{
					ID:        nid,
					Type:      NodeResource,
					Name:      r.Name,
					Variables: resourceVariables(r),
					Tags:      []string{r.Type},
				})
				g.addEdge(rid, nid, EdgeContains)
				if _, ok := targetIndex[r.ID()]; !ok {
					targetIndex[r.ID()] = nid
				}
				for _, n := range r.Notifications {
					notifies = append(notifies, pendingNotify{from: nid, target: n.Target})
				}
			}
		}
		for _, pn := range notifies {
			if to, ok := targetIndex[pn.target]; ok && to != pn.from {
				g.addEdge(pn.from, to, EdgeNotifies)
			}
		}
	}

	for _, u := range units {
		for _, dep := range u.DependsOn {
			if !unitByName[dep] {
				// External dependency without a unit in this migration:
				// represent it so ordering still sees it.
				did := UnitID(dep)
				if g.Nodes[did] == nil {
					g.addNode(&Node{ID: did, Type: NodeDependency, Name: dep, Tags: []string{"external"}})
				}
			}
			g.addEdge(UnitID(dep), UnitID(u.Name), EdgeDependsOn)
		}
	}

	seenGroups := make(map[string]bool)
	for _, h := range hosts {
		hid := HostID(h.Name)
		if g.Nodes[hid] != nil {
			continue
		}
		g.addNode(&Node{ID: hid, Type: NodeHost, Name: h.Name, Variables: h.Vars})
		for _, grp := range h.Groups {
			gid := GroupID(grp)
			if !seenGroups[gid] {
				seenGroups[gid] = true
				if g.Nodes[gid] == nil {
					g.addNode(&Node{ID: gid, Type: NodeGroup, Name: grp})
				}
			}
			g.addEdge(hid, gid, EdgeMemberOf)
		}
	}

	order, err := topoSort(g)
	if err != nil {
		return nil, err
	}
	g.unitOrder = order
	g.Metadata["units"] = fmt.Sprintf("%d", len(units))
	g.Metadata["hosts"] = fmt.Sprintf("%d", len(hosts))
	return g, nil
}

func (g *Graph) addNode(n *Node) {
	g.Nodes[n.ID] = n
	g.order = append(g.order, n.ID)
}

func (g *Graph) addEdge(from, to string, kind EdgeKind) {
	g.Edges = append(g.Edges, Edge{From: from, To: to, Kind: kind})
}

// topoSort runs Kahn's algorithm over depends_on edges: repeatedly
// remove zero-in-degree unit nodes, lexically smallest first so the
// order is deterministic. Any node left with nonzero in-degree is part
// of a cycle.
func topoSort(g *Graph) ([]string, error) {
	inDegree := make(map[string]int)
	successors := make(map[string][]string)
	for _, id := range g.order {
		if g.Nodes[id].Type == NodeDependency {
			inDegree[id] = 0
		}
	}
	for _, e := range g.Edges {
		if e.Kind != EdgeDependsOn {
			continue
		}
		if _, ok := inDegree[e.From]; !ok {
			continue
		}
		if _, ok := inDegree[e.To]; !ok {
			continue
		}
		inDegree[e.To]++
		successors[e.From] = append(successors[e.From], e.To)
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		var unlocked []string
		for _, succ := range successors[id] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				unlocked = append(unlocked, succ)
			}
		}
		sort.Strings(unlocked)
		ready = mergeSorted(ready, unlocked)
	}

	if len(order) < len(inDegree) {
		var cyclic []string
		for id := range inDegree {
			if inDegree[id] > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		return nil, &DependencyCycleError{Nodes: cyclic}
	}
	return order, nil
}

// mergeSorted merges two sorted string slices.
func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// resourceVariables flattens a resource's properties into ordered node
// variables.
func resourceVariables(r *chef.Resource) []Variable {
	vars := make([]Variable, 0, len(r.Properties)+1)
	if r.Action != "" {
		vars = append(vars, Variable{Name: "action", Value: r.Action})
	}
	for _, p := range r.Properties {
		vars = append(vars, Variable{Name: p.Name, Value: p.Value})
	}
	return vars
}

// FlattenAttributes converts a resolved attribute tree into ordered
// dotted-path variables, for attaching to a host or unit node.
func FlattenAttributes(m *chef.Map) []Variable {
	return attrVariables(m)
}

// attrVariables flattens a resolved attribute tree into ordered
// dotted-path variables.
func attrVariables(m *chef.Map) []Variable {
	if m == nil {
		return nil
	}
	var vars []Variable
	var walk func(prefix string, mm *chef.Map)
	walk = func(prefix string, mm *chef.Map) {
		for _, k := range mm.Keys() {
			v, _ := mm.Get(k)
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := v.(*chef.Map); ok {
				walk(key, child)
				continue
			}
			vars = append(vars, Variable{Name: key, Value: chef.ToGo(v)})
		}
	}
	walk("", m)
	return vars
}
