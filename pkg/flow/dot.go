package flow

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// ParseDOT reads a headless pipeline description. Each node carries a
// type attribute (prompt, custom, llm or output) and its form fields as
// attributes (content; model, temperature, api_key; pos="x,y"). Edges are
// taken as drawn.
//
//	digraph chat {
//	    sys [type=prompt, content="Be terse"]
//	    gem [type=llm, model="gemini-1.5-flash", temperature=0.2]
//	    out [type=output]
//	    sys -> gem -> out
//	}
func ParseDOT(src string) (*Graph, string, error) {
	graphAst, err := gographviz.ParseString(src)
	if err != nil {
		return nil, "", fmt.Errorf("dot parse error: %w", err)
	}

	// gographviz.Graph rejects attribute names Graphviz does not know, so
	// collect through a permissive implementation instead.
	collector := newDOTCollector()
	if err := gographviz.Analyse(graphAst, collector); err != nil {
		return nil, "", fmt.Errorf("dot analyse error: %w", err)
	}

	g := NewGraph()
	for _, id := range collector.order {
		attrs := collector.nodes[id]
		role, err := ParseRoleToken(attrs["type"])
		if err != nil {
			return nil, "", fmt.Errorf("node %q: %w", id, err)
		}
		n := &Node{ID: id, Role: role}
		if n.Position, err = parsePos(attrs["pos"]); err != nil {
			return nil, "", fmt.Errorf("node %q: %w", id, err)
		}
		if n.Data, err = DefaultData(role); err != nil {
			return nil, "", err
		}
		g.nodes = append(g.nodes, n)
		patch, err := patchFromAttrs(role, attrs)
		if err != nil {
			return nil, "", fmt.Errorf("node %q: %w", id, err)
		}
		if err := g.Apply(Update{NodeID: id, Patch: patch}); err != nil {
			return nil, "", err
		}
	}
	for _, e := range collector.edges {
		g.Connect(e.from, e.to)
	}
	return g, collector.name, nil
}

func patchFromAttrs(role Role, attrs map[string]string) (Patch, error) {
	switch role {
	case RolePrompt:
		var p PromptPatch
		if v, ok := attrs["content"]; ok {
			p.Content = &v
		}
		return p, nil
	case RoleLLM:
		var p LLMConfigPatch
		if v, ok := attrs["model"]; ok {
			m := Model(v)
			p.Model = &m
		}
		if v, ok := attrs["temperature"]; ok {
			t, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("temperature %q: %w", v, err)
			}
			p.Temperature = &t
		}
		if v, ok := attrs["api_key"]; ok {
			p.APIKey = &v
		}
		return p, nil
	}
	return outputPatch{}, nil
}

// outputPatch is a no-op; output nodes carry no form.
type outputPatch struct{}

func (outputPatch) Role() Role { return RoleOutput }

func (outputPatch) apply(NodeData) error { return nil }

func parsePos(s string) (Position, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "!")
	if s == "" {
		return Position{}, nil
	}
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return Position{}, fmt.Errorf("pos %q: want \"x,y\"", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return Position{}, fmt.Errorf("pos %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return Position{}, fmt.Errorf("pos %q: %w", s, err)
	}
	return Position{X: x, Y: y}, nil
}

// RenderDOT draws g as a Graphviz digraph for display. API keys are never
// written.
func RenderDOT(g *Graph, name string) (string, error) {
	if name == "" {
		name = "pipeline"
	}
	out := gographviz.NewGraph()
	if err := out.SetName(strconv.Quote(name)); err != nil {
		return "", err
	}
	if err := out.SetDir(true); err != nil {
		return "", err
	}
	if err := out.AddAttr(out.Name, "rankdir", "LR"); err != nil {
		return "", err
	}

	for _, n := range g.nodes {
		attrs := map[string]string{
			"label":   strconv.Quote(nodeLabel(n)),
			"shape":   roleShape(n.Role),
			"comment": strconv.Quote(string(n.Role)),
			"pos":     strconv.Quote(fmt.Sprintf("%g,%g!", n.Position.X, n.Position.Y)),
		}
		if n.Selected {
			attrs["penwidth"] = "2"
			attrs["color"] = "blue"
		}
		if err := out.AddNode(out.Name, strconv.Quote(n.ID), attrs); err != nil {
			return "", fmt.Errorf("node %q: %w", n.ID, err)
		}
	}

	for _, e := range g.edges {
		// gographviz refuses edges to undeclared nodes; draw dangling ends
		// as points so they stay visible.
		for _, end := range []string{e.Source, e.Target} {
			if g.find(end) == nil && !out.IsNode(strconv.Quote(end)) {
				if err := out.AddNode(out.Name, strconv.Quote(end), map[string]string{"shape": "point"}); err != nil {
					return "", err
				}
			}
		}
		attrs := map[string]string{
			"color":    strconv.Quote(e.Stroke),
			"penwidth": strconv.Itoa(e.StrokeWidth),
		}
		if e.Animated {
			attrs["style"] = "dashed"
		}
		if err := out.AddEdge(strconv.Quote(e.Source), strconv.Quote(e.Target), true, attrs); err != nil {
			return "", fmt.Errorf("edge %q: %w", e.ID, err)
		}
	}
	return out.String(), nil
}

func nodeLabel(n *Node) string {
	switch d := n.Data.(type) {
	case *PromptData:
		return Label(n.Role) + "\n" + truncate(d.Content, 40)
	case *LLMConfigData:
		return fmt.Sprintf("%s\n%s @ %g", Label(n.Role), d.Model.DisplayName(), d.Temperature)
	}
	return Label(n.Role)
}

func roleShape(r Role) string {
	switch r {
	case RolePrompt:
		return "note"
	case RoleLLM:
		return "box"
	}
	return "ellipse"
}

// RenderText produces a human-readable summary: nodes in chain order, then
// edges in definition order.
func RenderText(g *Graph, name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Pipeline: %s  (%d nodes, %d edges)\n", name, len(g.nodes), len(g.edges))

	maxIDLen := 4
	for _, n := range g.nodes {
		if len(n.ID) > maxIDLen {
			maxIDLen = len(n.ID)
		}
	}

	nodes := make([]*Node, len(g.nodes))
	copy(nodes, g.nodes)
	sort.SliceStable(nodes, func(i, j int) bool { return roleRank(nodes[i].Role) < roleRank(nodes[j].Role) })

	fmt.Fprintf(&sb, "\nNodes:\n")
	for _, n := range nodes {
		mark := " "
		if n.Selected {
			mark = "*"
		}
		fmt.Fprintf(&sb, " %s%-*s  %-7s  %s\n", mark, maxIDLen, n.ID, string(n.Role), describe(n.Data))
	}

	fmt.Fprintf(&sb, "\nEdges:\n")
	for _, e := range g.edges {
		mark := " "
		if e.Selected {
			mark = "*"
		}
		fmt.Fprintf(&sb, " %s%s  →  %s  (%s)\n", mark, e.Source, e.Target, e.ID)
	}
	return sb.String()
}

func describe(d NodeData) string {
	switch d := d.(type) {
	case *PromptData:
		return "content=" + strconv.Quote(truncate(d.Content, 60))
	case *LLMConfigData:
		return d.String()
	}
	return ""
}

func roleRank(r Role) int {
	for i, v := range Roles {
		if v == r {
			return i
		}
	}
	return len(Roles)
}

// truncate shortens s to maxLen runes, appending "…" if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

// ─── permissive DOT collector ─────────────────────────────────────────────────

type rawEdge struct {
	from, to string
}

// dotCollector implements gographviz.Interface without attribute validation.
type dotCollector struct {
	name  string
	nodes map[string]map[string]string
	order []string
	edges []rawEdge
}

func newDOTCollector() *dotCollector {
	return &dotCollector{nodes: make(map[string]map[string]string)}
}

func (c *dotCollector) SetStrict(_ bool) error { return nil }
func (c *dotCollector) SetDir(_ bool) error    { return nil }
func (c *dotCollector) SetName(n string) error { c.name = unquote(n); return nil }
func (c *dotCollector) String() string         { return c.name }

func (c *dotCollector) AddNode(_ string, name string, attrs map[string]string) error {
	id := unquote(name)
	if _, ok := c.nodes[id]; !ok {
		c.nodes[id] = make(map[string]string, len(attrs))
		c.order = append(c.order, id)
	}
	for k, v := range attrs {
		c.nodes[id][k] = unquote(v)
	}
	return nil
}

func (c *dotCollector) AddEdge(src, dst string, _ bool, _ map[string]string) error {
	c.edges = append(c.edges, rawEdge{from: unquote(src), to: unquote(dst)})
	return nil
}

func (c *dotCollector) AddPortEdge(src, _, dst, _ string, directed bool, attrs map[string]string) error {
	return c.AddEdge(src, dst, directed, attrs)
}

func (c *dotCollector) AddAttr(_ string, _, _ string) error { return nil }

func (c *dotCollector) AddSubGraph(_, _ string, _ map[string]string) error { return nil }

// unquote strips surrounding double-quotes from a DOT attribute value and
// decodes the escapes DOT defines inside quoted strings: \" becomes a quote
// and a backslash-newline is a line continuation. Any other backslash is
// kept together with the character after it.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	s = s[1 : len(s)-1]
	if !strings.Contains(s, `\`) {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			sb.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case '"':
			sb.WriteByte('"')
		case '\n':
		default:
			sb.WriteByte('\\')
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}
