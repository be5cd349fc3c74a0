// Package ansible renders IR resources into Ansible task records. The
// mapping is data-driven: a static table keyed by the closed resource
// kind enum, with unmapped kinds surfaced for manual review. Rendering
// the same input twice produces byte-identical YAML.
package ansible

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Param is one ordered module parameter.
type Param struct {
	Key   string
	Value any
}

// Task is one Ansible task record.
type Task struct {
	Name        string
	Module      string
	Params      []Param
	When        []string
	Register    string
	ChangedWhen string
	FailedWhen  string
	Notify      []string
	Become      bool
}

// Handler is a named handler triggered through notify.
type Handler struct {
	Name   string
	Module string
	Params []Param
}

// Playbook is one play covering a migration unit.
type Playbook struct {
	Name     string
	Hosts    string
	Become   bool
	Tasks    []Task
	Handlers []Handler
}

// UnsupportedResourceError marks a resource type with no registered
// mapping. The caller routes the node to manual review; it is never
// silently dropped.
type UnsupportedResourceError struct {
	Type string
}

func (e *UnsupportedResourceError) Error() string {
	return fmt.Sprintf("ansible: no task mapping for resource type %q", e.Type)
}

// Render serializes a playbook to YAML. Map parameters are emitted in
// declaration order and nested maps in sorted key order, so emitting
// the same playbook twice yields identical bytes.
func Render(p *Playbook) ([]byte, error) {
	play := mapping()
	addStr(play, "name", p.Name)
	addStr(play, "hosts", p.Hosts)
	if p.Become {
		addBool(play, "become", true)
	}

	tasks := &yaml.Node{Kind: yaml.SequenceNode}
	for i := range p.Tasks {
		tasks.Content = append(tasks.Content, taskNode(&p.Tasks[i]))
	}
	addNode(play, "tasks", tasks)

	if len(p.Handlers) > 0 {
		handlers := &yaml.Node{Kind: yaml.SequenceNode}
		for i := range p.Handlers {
			handlers.Content = append(handlers.Content, handlerNode(&p.Handlers[i]))
		}
		addNode(play, "handlers", handlers)
	}

	doc := &yaml.Node{Kind: yaml.SequenceNode, Content: []*yaml.Node{play}}
	return yaml.Marshal(doc)
}

func taskNode(t *Task) *yaml.Node {
	m := mapping()
	addStr(m, "name", t.Name)
	addNode(m, t.Module, paramsNode(t.Params))
	if t.Register != "" {
		addStr(m, "register", t.Register)
	}
	if t.ChangedWhen != "" {
		addStr(m, "changed_when", t.ChangedWhen)
	}
	if t.FailedWhen != "" {
		addStr(m, "failed_when", t.FailedWhen)
	}
	switch len(t.When) {
	case 0:
	case 1:
		addStr(m, "when", t.When[0])
	default:
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, w := range t.When {
			seq.Content = append(seq.Content, scalar(w))
		}
		addNode(m, "when", seq)
	}
	if len(t.Notify) > 0 {
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, n := range t.Notify {
			seq.Content = append(seq.Content, scalar(n))
		}
		addNode(m, "notify", seq)
	}
	if t.Become {
		addBool(m, "become", true)
	}
	return m
}

func handlerNode(h *Handler) *yaml.Node {
	m := mapping()
	addStr(m, "name", h.Name)
	addNode(m, h.Module, paramsNode(h.Params))
	return m
}

func paramsNode(params []Param) *yaml.Node {
	// Free-form modules (meta, import_tasks) take a bare scalar.
	if len(params) == 1 && params[0].Key == "free_form" {
		return valueNode(params[0].Value)
	}
	m := mapping()
	for _, p := range params {
		addNode(m, p.Key, valueNode(p.Value))
	}
	return m
}

// valueNode converts an arbitrary parameter value. Go maps carry no
// order, so their keys are sorted.
func valueNode(v any) *yaml.Node {
	switch t := v.(type) {
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	case string:
		return scalar(t)
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: fmt.Sprintf("%t", t)}
	case int:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprintf("%d", t)}
	case float64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: fmt.Sprintf("%g", t)}
	case []any:
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, item := range t {
			seq.Content = append(seq.Content, valueNode(item))
		}
		return seq
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := mapping()
		for _, k := range keys {
			addNode(m, k, valueNode(t[k]))
		}
		return m
	default:
		return scalar(fmt.Sprintf("%v", t))
	}
}

func mapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode}
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func addNode(m *yaml.Node, key string, v *yaml.Node) {
	m.Content = append(m.Content, scalar(key), v)
}

func addStr(m *yaml.Node, key, v string) {
	addNode(m, key, scalar(v))
}

func addBool(m *yaml.Node, key string, v bool) {
	addNode(m, key, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: fmt.Sprintf("%t", v)})
}
