// Package ir holds the translator's intermediate representation: a
// directed graph of configuration units, recipes, resources and
// inventory nodes, independent of both the Chef source format and the
// Ansible target format.
package ir

import (
	"fmt"
	"strings"
)

// NodeType classifies graph nodes.
type NodeType string

const (
	NodeResource   NodeType = "resource"
	NodeRecipe     NodeType = "recipe"
	NodeDependency NodeType = "dependency" // a migration unit (cookbook) participating in ordering
	NodeHost       NodeType = "host"
	NodeGroup      NodeType = "group"
)

// EdgeKind classifies graph edges.
type EdgeKind string

const (
	EdgeContains  EdgeKind = "contains"
	EdgeDependsOn EdgeKind = "depends_on"
	EdgeNotifies  EdgeKind = "notifies"
	EdgeMemberOf  EdgeKind = "member_of"
)

// Variable is one ordered key/value pair attached to a node.
type Variable struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Node is one vertex in the graph, owned exclusively by its Graph.
type Node struct {
	ID        string     `json:"id"`
	Type      NodeType   `json:"type"`
	Name      string     `json:"name"`
	Variables []Variable `json:"variables,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
}

// Edge is one directed edge between two node IDs.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// Graph is the complete IR for one migration. Immutable once the
// builder returns it; the emitter and orchestrator only read it.
type Graph struct {
	Nodes    map[string]*Node  `json:"nodes"`
	Edges    []Edge            `json:"edges"`
	Metadata map[string]string `json:"metadata,omitempty"`

	order     []string // insertion order of node IDs
	unitOrder []string // topological order over depends_on edges
}

// Node returns a node by ID, or nil.
func (g *Graph) Node(id string) *Node {
	return g.Nodes[id]
}

// NodeIDs returns all node IDs in insertion order.
func (g *Graph) NodeIDs() []string {
	return g.order
}

// MigrationOrder returns unit node IDs in dependency order: a unit
// appears after every unit it depends on. Deterministic for a given
// build input.
func (g *Graph) MigrationOrder() []string {
	return g.unitOrder
}

// ContainedBy returns the IDs of nodes joined to parent by a contains
// edge, in edge insertion order.
func (g *Graph) ContainedBy(parentID string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.Kind == EdgeContains && e.From == parentID {
			out = append(out, e.To)
		}
	}
	return out
}

// MemberOf returns the IDs of nodes the child joins with a member_of
// edge, in edge insertion order.
func (g *Graph) MemberOf(childID string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.Kind == EdgeMemberOf && e.From == childID {
			out = append(out, e.To)
		}
	}
	return out
}

// DependencyCycleError is returned when depends_on edges form a cycle.
// No partial graph accompanies it.
type DependencyCycleError struct {
	Nodes []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("ir: dependency cycle among %s", strings.Join(e.Nodes, ", "))
}
