package cmd

import (
	"fmt"
	"strings"

	"github.com/Benny93/oca-go/internal/graph"
)

// GraphCmd prints the dependency graph of the selected ocafiles.
type GraphCmd struct {
	Sources

	Ancestors   string `help:"Print the refns that transitively depend on this refn"`
	Descendants string `help:"Print the refns this refn transitively depends on"`
	JSON        bool   `help:"Print as JSON"`
}

type graphNode struct {
	Refn         string   `json:"refn"`
	Path         string   `json:"path"`
	Kind         string   `json:"kind"`
	Dependencies []string `json:"dependencies"`
	Unresolved   []string `json:"unresolved,omitempty"`
	InCycle      bool     `json:"in_cycle,omitempty"`
}

// graphEdge points from a dependent to its dependency.
type graphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Run executes the graph command.
func (c *GraphCmd) Run(app *App) error {
	files, _, err := c.load(app)
	if err != nil {
		return err
	}
	g, errs := graph.Resolve(files)

	switch {
	case c.Ancestors != "":
		return c.related(app, g, c.Ancestors, "ancestors", g.Ancestors)
	case c.Descendants != "":
		return c.related(app, g, c.Descendants, "descendants", g.Descendants)
	}

	var refns []string
	for _, n := range g.Nodes() {
		refns = append(refns, n.Refn)
	}
	order, err := g.TopologicalOrder(refns)
	if err != nil {
		// Cyclic graphs are listed in resolution order.
		order = refns
	}

	nodes := make([]graphNode, 0, len(order))
	for _, refn := range order {
		n, _ := g.Node(refn)
		nodes = append(nodes, graphNode{
			Refn:         refn,
			Path:         n.Path,
			Kind:         string(n.Kind),
			Dependencies: append([]string{}, g.Dependencies(refn)...),
			Unresolved:   g.Unresolved(refn),
			InCycle:      g.InCycle(refn),
		})
	}

	if c.JSON {
		all := g.Nodes()
		edges := make([]graphEdge, 0)
		for _, e := range g.Edges() {
			edges = append(edges, graphEdge{From: all[e.From].Refn, To: all[e.To].Refn})
		}
		skipped := make([]string, 0)
		for _, sk := range g.Skipped() {
			skipped = append(skipped, sk.Path)
		}
		problems := make([]string, len(errs))
		for i, e := range errs {
			problems[i] = e.Error()
		}
		return app.writeJSON(struct {
			Nodes    []graphNode `json:"nodes"`
			Edges    []graphEdge `json:"edges"`
			Skipped  []string    `json:"skipped"`
			Rejected []string    `json:"rejected"`
			Errors   []string    `json:"errors"`
		}{nodes, edges, skipped, append([]string{}, g.Rejected()...), problems})
	}

	for _, n := range nodes {
		app.heading("%s", n.Refn)
		app.printf("  %s (%s)\n", n.Path, n.Kind)
		for _, d := range n.Dependencies {
			app.printf("  -> %s\n", d)
		}
		for _, u := range n.Unresolved {
			app.failure("  -> %s (unresolved)", u)
		}
		if n.InCycle {
			app.failure("  in a dependency cycle")
		}
	}
	for _, sk := range g.Skipped() {
		app.warn("skipped %s: %s", sk.Path, sk.Reason)
	}
	for _, e := range errs {
		app.failure("✗ %v", e)
	}
	return nil
}

func (c *GraphCmd) related(app *App, g *graph.DependencyGraph, refn, what string, fn func(string) []string) error {
	if _, ok := g.Node(refn); !ok {
		return fmt.Errorf("refn %q is not declared by any file", refn)
	}
	related := fn(refn)
	if c.JSON {
		return app.writeJSON(map[string][]string{what: append([]string{}, related...)})
	}
	if len(related) == 0 {
		app.printf("%s has no %s\n", refn, what)
		return nil
	}
	app.heading("%s of %s", strings.ToUpper(what[:1])+what[1:], refn)
	for _, r := range related {
		app.printf("  %s\n", r)
	}
	return nil
}
