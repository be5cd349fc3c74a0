package ansible

import (
	"context"
	"fmt"
	"strings"

	"github.com/rflorenc/chef-migration-workbench/internal/ir"
)

// ManualItem is a resource the emitter could not convert. It is carried
// through to the migration result instead of being dropped.
type ManualItem struct {
	ResourceID string `json:"resource_id"`
	Reason     string `json:"reason"`
}

// EmitResult is the emitter output for one migration unit.
type EmitResult struct {
	Unit     string       `json:"unit"`
	Playbook *Playbook    `json:"-"`
	YAML     []byte       `json:"-"`
	Manual   []ManualItem `json:"manual,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Emit renders one playbook per unit, in migration order. Units the
// graph knows only as external dependencies produce no playbook.
func Emit(ctx context.Context, g *ir.Graph, units []ir.Unit) ([]*EmitResult, error) {
	byName := make(map[string]*ir.Unit, len(units))
	for i := range units {
		byName[units[i].Name] = &units[i]
	}
	var out []*EmitResult
	for _, id := range g.MigrationOrder() {
		node := g.Node(id)
		if node == nil {
			return nil, fmt.Errorf("ansible: migration order references unknown node %q", id)
		}
		u, ok := byName[node.Name]
		if !ok {
			continue
		}
		res, err := EmitUnit(ctx, u)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// EmitUnit converts one unit's resources, recipe by recipe, into a
// single play. Conversion failures land in Manual; they never abort
// the unit. The context is checked between resources so a cancelled
// run stops mid-cookbook.
func EmitUnit(ctx context.Context, u *ir.Unit) (*EmitResult, error) {
	res := &EmitResult{Unit: u.Name}
	pb := &Playbook{
		Name:   "Converted from cookbook " + u.Name,
		Hosts:  u.Name,
		Become: true,
	}

	seq := 0
	for _, rec := range u.Recipes {
		for i := range rec.Resources {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			r := &rec.Resources[i]
			conv, err := Convert(r, seq)
			seq++
			if err != nil {
				res.Manual = append(res.Manual, ManualItem{
					ResourceID: r.ID(),
					Reason:     err.Error(),
				})
				continue
			}
			pb.Tasks = append(pb.Tasks, conv.Tasks...)
			for _, h := range conv.Handlers {
				if !hasHandler(pb.Handlers, h.Name) {
					pb.Handlers = append(pb.Handlers, h)
				}
			}
			for _, w := range conv.Warnings {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", r.ID(), w))
			}
		}
	}

	data, err := Render(pb)
	if err != nil {
		return nil, fmt.Errorf("ansible: rendering playbook for %s: %w", u.Name, err)
	}
	res.Playbook = pb
	res.YAML = data
	return res, nil
}

// PlaybookFileName returns the output file name for a unit playbook.
func PlaybookFileName(unit string) string {
	return strings.ReplaceAll(unit, "/", "_") + ".yml"
}
