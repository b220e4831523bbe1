package flow

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
)

// Role identifies which stage of the pipeline a node plays.
type Role string

const (
	RolePrompt Role = "prompt"
	RoleLLM    Role = "llm"
	RoleOutput Role = "output"
)

// Roles lists the pipeline stages in chain order.
var Roles = []Role{RolePrompt, RoleLLM, RoleOutput}

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrRoleMismatch = errors.New("patch does not match node role")
	ErrUnknownRole  = errors.New("unknown role")
)

// ParseRoleToken maps a palette drag token to a Role. "custom" is the legacy
// token for the system prompt node.
func ParseRoleToken(token string) (Role, error) {
	switch token {
	case "prompt", "custom":
		return RolePrompt, nil
	case "llm":
		return RoleLLM, nil
	case "output":
		return RoleOutput, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, token)
}

// Label returns the display text shown on a node of the given role.
func Label(r Role) string {
	switch r {
	case RolePrompt:
		return "System Prompt Node"
	case RoleLLM:
		return "LLM Node"
	case RoleOutput:
		return "Output Node"
	}
	return string(r)
}

// Position is a canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a positioned, typed, data-carrying vertex of the pipeline graph.
type Node struct {
	ID       string
	Role     Role
	Position Position
	Selected bool
	Data     NodeData
}

// Label returns the node's display text.
func (n *Node) Label() string { return Label(n.Role) }

// Edge is a directed connection between two nodes. Only rendering hints ride
// along; the run validator never reads edges.
type Edge struct {
	ID          string
	Source      string
	Target      string
	Animated    bool
	Stroke      string
	StrokeWidth int
	Selected    bool
}

var idCounter atomic.Uint64

func nextID(prefix string) string {
	return prefix + "-" + strconv.FormatUint(idCounter.Add(1), 10)
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithIDSource replaces the node id generator. The source must never repeat
// an id for the lifetime of the graph.
func WithIDSource(fn func(Role) string) GraphOption {
	return func(g *Graph) { g.newID = fn }
}

// Graph is the mutable pipeline graph. It exclusively owns its nodes and
// edges; callers get copies. A Graph is not safe for concurrent use and is
// meant to be driven from a single goroutine.
type Graph struct {
	nodes []*Node
	edges []*Edge
	newID func(Role) string
}

// NewGraph returns an empty graph.
func NewGraph(opts ...GraphOption) *Graph {
	g := &Graph{newID: func(r Role) string { return nextID(string(r)) }}
	for _, o := range opts {
		o(g)
	}
	return g
}

// AddNode creates a node with a fresh id and default data for role.
func (g *Graph) AddNode(role Role, pos Position) (Node, error) {
	data, err := DefaultData(role)
	if err != nil {
		return Node{}, err
	}
	id := g.newID(role)
	// Ids loaded from a DOT file may already occupy the generated name.
	for g.find(id) != nil {
		id = g.newID(role)
	}
	n := &Node{ID: id, Role: role, Position: pos, Data: data}
	g.nodes = append(g.nodes, n)
	return n.clone(), nil
}

// Connect appends an edge from sourceID to targetID. It always succeeds:
// duplicates, self loops and unknown endpoints are accepted.
func (g *Graph) Connect(sourceID, targetID string) Edge {
	e := &Edge{
		ID:          "e-" + sourceID + "-" + targetID + "-" + strconv.FormatUint(idCounter.Add(1), 10),
		Source:      sourceID,
		Target:      targetID,
		Animated:    true,
		Stroke:      "black",
		StrokeWidth: 3,
	}
	g.edges = append(g.edges, e)
	return *e
}

// Select sets the selection flag of the node or edge with the given id.
func (g *Graph) Select(id string, selected bool) error {
	if n := g.find(id); n != nil {
		n.Selected = selected
		return nil
	}
	for _, e := range g.edges {
		if e.ID == id {
			e.Selected = selected
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
}

// ClearSelection deselects every node and edge.
func (g *Graph) ClearSelection() {
	for _, n := range g.nodes {
		n.Selected = false
	}
	for _, e := range g.edges {
		e.Selected = false
	}
}

// DeleteSelected removes every selected node and edge and nothing else.
// Edges whose endpoints were removed stay in place; see Dangling.
func (g *Graph) DeleteSelected() (nodes, edges int) {
	keptNodes := g.nodes[:0]
	for _, n := range g.nodes {
		if n.Selected {
			nodes++
			continue
		}
		keptNodes = append(keptNodes, n)
	}
	clear(g.nodes[len(keptNodes):])
	g.nodes = keptNodes

	keptEdges := g.edges[:0]
	for _, e := range g.edges {
		if e.Selected {
			edges++
			continue
		}
		keptEdges = append(keptEdges, e)
	}
	clear(g.edges[len(keptEdges):])
	g.edges = keptEdges
	return nodes, edges
}

// Dangling returns the edges that reference a node no longer in the graph.
func (g *Graph) Dangling() []Edge {
	var out []Edge
	for _, e := range g.edges {
		if g.find(e.Source) == nil || g.find(e.Target) == nil {
			out = append(out, *e)
		}
	}
	return out
}

// PruneDangling removes dangling edges and reports how many were dropped.
func (g *Graph) PruneDangling() int {
	kept := g.edges[:0]
	for _, e := range g.edges {
		if g.find(e.Source) != nil && g.find(e.Target) != nil {
			kept = append(kept, e)
		}
	}
	n := len(g.edges) - len(kept)
	clear(g.edges[len(kept):])
	g.edges = kept
	return n
}

// UpdateNodePosition moves a node.
func (g *Graph) UpdateNodePosition(id string, pos Position) error {
	n := g.find(id)
	if n == nil {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	n.Position = pos
	return nil
}

// UpdateNodeData applies a patch to a node's data record in place.
func (g *Graph) UpdateNodeData(id string, p Patch) error {
	n := g.find(id)
	if n == nil {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	if p.Role() != n.Role {
		return fmt.Errorf("node %q: %w: node is %s, patch is %s", id, ErrRoleMismatch, n.Role, p.Role())
	}
	if err := p.apply(n.Data); err != nil {
		return fmt.Errorf("node %q: %w", id, err)
	}
	return nil
}

// Apply consumes an update message emitted by a node form.
func (g *Graph) Apply(u Update) error {
	return g.UpdateNodeData(u.NodeID, u.Patch)
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	n := g.find(id)
	if n == nil {
		return Node{}, false
	}
	return n.clone(), true
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.clone()
	}
	return out
}

// Edges returns copies of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	for i, e := range g.edges {
		out[i] = *e
	}
	return out
}

// FirstByRole returns the earliest-inserted node with the given role.
func (g *Graph) FirstByRole(r Role) (Node, bool) {
	for _, n := range g.nodes {
		if n.Role == r {
			return n.clone(), true
		}
	}
	return Node{}, false
}

// CountByRole reports how many nodes carry role r.
func (g *Graph) CountByRole(r Role) int {
	c := 0
	for _, n := range g.nodes {
		if n.Role == r {
			c++
		}
	}
	return c
}

// OutgoingEdges returns all edges leaving nodeID, in definition order.
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Source == nodeID {
			out = append(out, *e)
		}
	}
	return out
}

func (g *Graph) find(id string) *Node {
	for _, n := range g.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func (n *Node) clone() Node {
	c := *n
	if n.Data != nil {
		c.Data = n.Data.clone()
	}
	return c
}
