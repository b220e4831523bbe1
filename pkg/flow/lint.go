package flow

import (
	"fmt"
	"strings"
)

// LintError describes a structural problem in a pipeline graph.
type LintError struct {
	NodeID  string
	Message string
}

func (e LintError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %q: %s", e.NodeID, e.Message)
	}
	return e.Message
}

// Lint checks a graph for structural problems and returns all of them.
// Lint is advisory: a run only needs each role present once (see Prepare).
func Lint(g *Graph) []LintError {
	var errs []LintError

	for _, r := range Roles {
		switch c := g.CountByRole(r); c {
		case 0:
			errs = append(errs, LintError{Message: fmt.Sprintf("pipeline has no %s", Label(r))})
		case 1:
			// good
		default:
			first, _ := g.FirstByRole(r)
			errs = append(errs, LintError{
				NodeID:  first.ID,
				Message: fmt.Sprintf("pipeline has %d %s nodes; only the first is used", c, r),
			})
		}
	}

	for _, e := range g.Dangling() {
		errs = append(errs, LintError{Message: fmt.Sprintf("edge %q references a deleted node (%s -> %s)", e.ID, e.Source, e.Target)})
	}

	prompt, okP := g.FirstByRole(RolePrompt)
	model, okL := g.FirstByRole(RoleLLM)
	out, okO := g.FirstByRole(RoleOutput)
	if okP && okL && !g.connected(prompt.ID, model.ID) {
		errs = append(errs, LintError{NodeID: prompt.ID, Message: "system prompt is not connected to the LLM node"})
	}
	if okL && okO && !g.connected(model.ID, out.ID) {
		errs = append(errs, LintError{NodeID: model.ID, Message: "LLM node is not connected to the output node"})
	}

	for _, n := range g.nodes {
		if d, ok := n.Data.(*LLMConfigData); ok && !d.Model.Valid() {
			errs = append(errs, LintError{NodeID: n.ID, Message: fmt.Sprintf("unknown model %q", d.Model)})
		}
	}
	return errs
}

// LintErr calls Lint and returns nil if there are no findings, or a combined
// error listing all of them.
func LintErr(g *Graph) error {
	errs := Lint(g)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("pipeline lint failed:\n  %s", strings.Join(msgs, "\n  "))
}

func (g *Graph) connected(from, to string) bool {
	for _, e := range g.OutgoingEdges(from) {
		if e.Target == to {
			return true
		}
	}
	return false
}
