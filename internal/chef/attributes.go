package chef

import (
	"fmt"
	"sort"
	"strings"
)

// Precedence is the six-level authority ordering for attribute
// declarations, lowest first. The comparator is plain integer order, so
// getting these constants right is what keeps every merge correct:
// automatic (ohai-collected) always wins, default always loses.
type Precedence int

const (
	PrecDefault Precedence = iota
	PrecForceDefault
	PrecNormal
	PrecOverride
	PrecForceOverride
	PrecAutomatic
)

var precByName = map[string]Precedence{
	"default":        PrecDefault,
	"force_default":  PrecForceDefault,
	"normal":         PrecNormal,
	"override":       PrecOverride,
	"force_override": PrecForceOverride,
	"automatic":      PrecAutomatic,
}

func (p Precedence) String() string {
	switch p {
	case PrecDefault:
		return "default"
	case PrecForceDefault:
		return "force_default"
	case PrecNormal:
		return "normal"
	case PrecOverride:
		return "override"
	case PrecForceOverride:
		return "force_override"
	case PrecAutomatic:
		return "automatic"
	}
	return fmt.Sprintf("precedence(%d)", int(p))
}

// AttrValue is a typed attribute tree node: scalar, list or map. The
// explicit variants keep "overwrite" and "merge" unambiguous during
// precedence resolution.
type AttrValue interface{ attrValue() }

// Scalar is a leaf value (string, number, bool or nil).
type Scalar struct {
	Value any
}

// List is an ordered sequence. Lists overwrite on merge, never splice.
type List struct {
	Items []AttrValue
}

// Map is an insertion-ordered string-keyed map. Maps deep-merge with
// maps and overwrite anything else.
type Map struct {
	keys    []string
	entries map[string]AttrValue
}

func (Scalar) attrValue() {}
func (List) attrValue()   {}
func (*Map) attrValue()   {}

// NewMap returns an empty ordered map.
func NewMap() *Map {
	return &Map{entries: make(map[string]AttrValue)}
}

// Set inserts or replaces a key, preserving first-insertion order.
func (m *Map) Set(key string, v AttrValue) {
	if _, ok := m.entries[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.entries[key] = v
}

// Get returns the value for key and whether it exists.
func (m *Map) Get(key string) (AttrValue, bool) {
	v, ok := m.entries[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	return m.keys
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.keys)
}

// Lookup descends a path of keys, returning the value at the end.
func (m *Map) Lookup(path ...string) (AttrValue, bool) {
	cur := AttrValue(m)
	for _, key := range path {
		mm, ok := cur.(*Map)
		if !ok {
			return nil, false
		}
		cur, ok = mm.Get(key)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ToGo converts an attribute tree into plain Go values for JSON
// serialization or template contexts. Map order is preserved only by
// callers that walk the tree directly.
func ToGo(v AttrValue) any {
	switch t := v.(type) {
	case Scalar:
		return t.Value
	case List:
		items := make([]any, len(t.Items))
		for i, it := range t.Items {
			items[i] = ToGo(it)
		}
		return items
	case *Map:
		out := make(map[string]any, t.Len())
		for _, k := range t.keys {
			out[k] = ToGo(t.entries[k])
		}
		return out
	}
	return nil
}

// FromGo converts plain Go values (decoded JSON, parsed literals) into
// an attribute tree. Map keys are ordered lexically since Go maps carry
// no order of their own.
func FromGo(v any) AttrValue {
	switch t := v.(type) {
	case []any:
		items := make([]AttrValue, len(t))
		for i, it := range t {
			items[i] = FromGo(it)
		}
		return List{Items: items}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			m.Set(k, FromGo(t[k]))
		}
		return m
	default:
		return Scalar{Value: v}
	}
}

// AttributeDeclaration is one attribute assignment collected from an
// attribute, role or environment file. Never mutated after creation.
type AttributeDeclaration struct {
	Precedence Precedence `json:"precedence"`
	Path       []string   `json:"path"`
	Value      AttrValue  `json:"value"`
}

// Resolve merges declarations from all six precedence levels into one
// flattened tree. Higher precedence wins a path outright; within one
// level, later-registered wins (the stable sort preserves caller
// insertion order). Two maps at the same path deep-merge; a scalar or
// list on either side overwrites. Deterministic for a given input
// order, no I/O.
func Resolve(decls []AttributeDeclaration) *Map {
	ordered := make([]AttributeDeclaration, len(decls))
	copy(ordered, decls)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Precedence < ordered[j].Precedence
	})

	root := NewMap()
	for _, d := range ordered {
		if len(d.Path) == 0 {
			continue
		}
		setPath(root, d.Path, d.Value)
	}
	return root
}

// setPath writes a value at a nested path, creating intermediate maps.
// A non-map intermediate is replaced by a map, since the later (higher
// or same-level) declaration is the authority for that subtree.
func setPath(root *Map, path []string, v AttrValue) {
	m := root
	for _, key := range path[:len(path)-1] {
		next, ok := m.Get(key)
		nm, isMap := next.(*Map)
		if !ok || !isMap {
			nm = NewMap()
			m.Set(key, nm)
		}
		m = nm
	}
	last := path[len(path)-1]
	existing, ok := m.Get(last)
	if ok {
		if em, okE := existing.(*Map); okE {
			if vm, okV := v.(*Map); okV {
				mergeMaps(em, vm)
				return
			}
		}
	}
	m.Set(last, v)
}

// mergeMaps deep-merges src into dst in src key order.
func mergeMaps(dst, src *Map) {
	for _, k := range src.keys {
		sv := src.entries[k]
		if dv, ok := dst.Get(k); ok {
			dm, okD := dv.(*Map)
			sm, okS := sv.(*Map)
			if okD && okS {
				mergeMaps(dm, sm)
				continue
			}
		}
		dst.Set(k, sv)
	}
}

// ParseAttributesFile scans attribute-file text for assignments of the
// form `default['app']['port'] = 80` at any of the six precedence
// levels, with or without a leading `node.`. Lines that are not
// attribute assignments are ignored; malformed assignments produce
// warnings.
func ParseAttributesFile(source, text string) ([]AttributeDeclaration, []ParseWarning) {
	var decls []AttributeDeclaration
	var warnings []ParseWarning

	lineNo := 0
	for _, rawLine := range strings.Split(text, "\n") {
		lineNo++
		line := strings.TrimSpace(stripInlineComment(rawLine))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "node.")

		word := firstWord(line)
		prec, ok := precByName[word]
		if !ok {
			continue
		}
		rest := line[len(word):]
		if !strings.HasPrefix(rest, "[") {
			continue
		}

		path, tail, err := parseBracketPath(rest)
		if err != nil {
			warnings = append(warnings, ParseWarning{
				Source: source, Line: lineNo,
				Message: fmt.Sprintf("malformed attribute path: %v", err),
			})
			continue
		}
		tail = strings.TrimSpace(tail)
		if !strings.HasPrefix(tail, "=") || strings.HasPrefix(tail, "==") {
			continue
		}
		value := strings.TrimSpace(tail[1:])
		if value == "" {
			warnings = append(warnings, ParseWarning{
				Source: source, Line: lineNo,
				Message: "attribute assignment has no value",
			})
			continue
		}
		decls = append(decls, AttributeDeclaration{
			Precedence: prec,
			Path:       path,
			Value:      FromGo(parseRubyValue(value)),
		})
	}
	return decls, warnings
}

// parseBracketPath consumes ['a']['b']... segments and returns the path
// plus the remaining text.
func parseBracketPath(s string) ([]string, string, error) {
	var path []string
	for strings.HasPrefix(s, "[") {
		closeIdx, err := matchDelim(s, 0, '[', ']')
		if err != nil {
			return nil, "", err
		}
		seg := strings.TrimSpace(s[1:closeIdx])
		key, ok := parseRubyValue(seg).(string)
		if !ok || key == "" {
			return nil, "", fmt.Errorf("non-string path segment %q", seg)
		}
		path = append(path, key)
		s = s[closeIdx+1:]
	}
	if len(path) == 0 {
		return nil, "", fmt.Errorf("empty attribute path")
	}
	return path, s, nil
}
