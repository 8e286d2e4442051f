package graph

import (
	"fmt"
	"os"
	"strings"

	"github.com/kolkov/weakcheck/internal/event"
)

// Render returns a canonical textual rendering of the graph.
//
// Stamps are left out, so two graphs that differ only in the order their
// labels were added render identically. The rendering is what duplicate
// detection hashes.
func (g *Graph) Render() string {
	var sb strings.Builder
	for t, th := range g.threads {
		fmt.Fprintf(&sb, "thread %d", t)
		if p := g.parents[t]; !p.IsBottom() {
			fmt.Fprintf(&sb, " (created at %s)", p)
		}
		sb.WriteString(":\n")
		for i, l := range th {
			fmt.Fprintf(&sb, "  %d: %s\n", i, g.describe(l))
		}
	}
	for _, a := range g.Locations() {
		fmt.Fprintf(&sb, "co %s: INIT", g.Name(a))
		for _, w := range g.co[a] {
			fmt.Fprintf(&sb, " %s", w)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// describe is the label description with location names substituted.
func (g *Graph) describe(l event.Label) string {
	s := l.String()
	switch l := l.(type) {
	case *event.ReadLabel:
		s = strings.Replace(s, l.Addr.String(), g.Name(l.Addr), 1)
		if !l.Rf.IsBottom() {
			s += fmt.Sprintf(" val=%d", g.ReadValue(l))
		}
	case *event.WriteLabel:
		s = strings.Replace(s, l.Addr.String(), g.Name(l.Addr), 1)
	case *event.LockLabel:
		s = strings.Replace(s, l.Addr.String(), g.Name(l.Addr), 1)
	case *event.UnlockLabel:
		s = strings.Replace(s, l.Addr.String(), g.Name(l.Addr), 1)
	}
	return s
}

// Describe returns the human-readable description of the label at e.
func (g *Graph) Describe(e event.Event) string {
	l := g.Label(e)
	if l == nil {
		return "<missing>"
	}
	return g.describe(l)
}

// DOT generates a Graphviz representation: one cluster per thread in
// program order, reads-from edges in green and coherence edges in red.
func (g *Graph) DOT() string {
	var sb strings.Builder

	sb.WriteString("digraph ExecutionGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, fontname=\"monospace\"];\n")
	sb.WriteString("  init [label=\"INIT\", shape=point];\n")
	sb.WriteString("\n")

	for t, th := range g.threads {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_%d {\n", t))
		sb.WriteString(fmt.Sprintf("    label=\"thread %d\";\n", t))
		for i, l := range th {
			label := strings.ReplaceAll(g.describe(l), "\"", "\\\"")
			sb.WriteString(fmt.Sprintf("    %s [label=\"%s: %s\"];\n", dotNode(l.Pos()), l.Pos(), label))
			if i > 0 {
				sb.WriteString(fmt.Sprintf("    %s -> %s;\n", dotNode(th[i-1].Pos()), dotNode(l.Pos())))
			}
		}
		sb.WriteString("  }\n")
	}
	sb.WriteString("\n")

	for t := 1; t < len(g.threads); t++ {
		if len(g.threads[t]) > 0 && g.Contains(g.parents[t]) {
			sb.WriteString(fmt.Sprintf("  %s -> %s [style=dotted];\n", dotNode(g.parents[t]), dotNode(event.New(t, 0))))
		}
	}
	for _, th := range g.threads {
		for _, l := range th {
			r, ok := l.(*event.ReadLabel)
			if !ok || r.Rf.IsBottom() {
				continue
			}
			sb.WriteString(fmt.Sprintf("  %s -> %s [color=green, label=\"rf\"];\n", dotSource(r.Rf), dotNode(r.Pos())))
		}
	}
	for _, a := range g.Locations() {
		prev := event.Init
		for _, w := range g.co[a] {
			sb.WriteString(fmt.Sprintf("  %s -> %s [color=red, label=\"co\"];\n", dotSource(prev), dotNode(w)))
			prev = w
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func dotNode(e event.Event) string {
	return fmt.Sprintf("\"e%d_%d\"", e.Thread, e.Index)
}

func dotSource(e event.Event) string {
	if e.IsInit() {
		return "init"
	}
	return dotNode(e)
}

// SaveDOT writes the DOT representation to filename.
func (g *Graph) SaveDOT(filename string) error {
	if err := os.WriteFile(filename, []byte(g.DOT()), 0o600); err != nil {
		return fmt.Errorf("write dot file %s: %w", filename, err)
	}
	return nil
}
