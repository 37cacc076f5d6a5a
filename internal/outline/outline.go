// Package outline models the report outline as a typed tree. The external
// form is Markdown with inline <citation> tags; Parse and Render round-trip
// the tree losslessly.
package outline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/VanGongwanxiaowan/WebWeaver1/internal/protocol"
)

// Node is one outline heading with its planning bullets and citation
// bindings. IDs are path-based (sec_1_2) and assigned after parsing.
type Node struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Level     int      `json:"level"`
	Bullets   []string `json:"bullets,omitempty"`
	Citations []string `json:"citations,omitempty"`
	Children  []*Node  `json:"children,omitempty"`
}

// Outline is a committed outline revision.
type Outline struct {
	Nodes   []*Node `json:"nodes"`
	Version int     `json:"version"`
}

func (o *Outline) Empty() bool { return o == nil || len(o.Nodes) == 0 }

// UnresolvedCitationError rejects an outline whose citation ids are not in
// the bank at commit time.
type UnresolvedCitationError struct{ IDs []string }

func (e *UnresolvedCitationError) Error() string {
	return "unresolved citations: " + strings.Join(e.IDs, ", ")
}

var (
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	bulletRe  = regexp.MustCompile(`^\s*[-*]\s+(.*)$`)
	citSpanRe = regexp.MustCompile(`(?is)\s*<citation>.*?</citation>\s*`)
)

// Parse builds the tree from Markdown. Heading jumps deeper than one level
// are clamped to parent+1; prose outside headings and bullets is dropped.
// Citations may sit on the heading line or on bullets; both bind to the
// nearest heading.
func Parse(text string) *Outline {
	var roots []*Node
	var stack []*Node // open heading chain

	for _, line := range strings.Split(text, "\n") {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			cits := protocol.ParseCitationSpans(title)
			title = strings.TrimSpace(citSpanRe.ReplaceAllString(title, " "))
			if title == "" {
				continue
			}

			for len(stack) > 0 && stack[len(stack)-1].Level >= level {
				stack = stack[:len(stack)-1]
			}
			if len(stack) > 0 && level > stack[len(stack)-1].Level+1 {
				level = stack[len(stack)-1].Level + 1
			}
			n := &Node{Title: title, Level: level, Citations: cits}
			if len(stack) == 0 {
				roots = append(roots, n)
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil && len(stack) > 0 {
			n := stack[len(stack)-1]
			text := strings.TrimSpace(m[1])
			for _, id := range protocol.ParseCitationSpans(text) {
				n.Citations = appendUnique(n.Citations, id)
			}
			text = strings.TrimSpace(citSpanRe.ReplaceAllString(text, " "))
			if text != "" {
				n.Bullets = append(n.Bullets, text)
			}
		}
	}

	o := &Outline{Nodes: roots}
	assignIDs(o.Nodes, "sec")
	return o
}

func assignIDs(nodes []*Node, prefix string) {
	for i, n := range nodes {
		n.ID = fmt.Sprintf("%s_%d", prefix, i+1)
		assignIDs(n.Children, n.ID)
	}
}

// Render emits the canonical Markdown form: one heading line per node with
// its citation span, then bullets.
func (o *Outline) Render() string {
	var sb strings.Builder
	renderNodes(&sb, o.Nodes)
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func renderNodes(sb *strings.Builder, nodes []*Node) {
	for _, n := range nodes {
		sb.WriteString(strings.Repeat("#", n.Level))
		sb.WriteString(" ")
		sb.WriteString(n.Title)
		if len(n.Citations) > 0 {
			sb.WriteString(" ")
			sb.WriteString(protocol.RenderCitationSpan(n.Citations))
		}
		sb.WriteString("\n")
		for _, b := range n.Bullets {
			sb.WriteString("- ")
			sb.WriteString(b)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
		renderNodes(sb, n.Children)
	}
}

// RenderCompact emits the heading skeleton only, for writer prompts.
func (o *Outline) RenderCompact() string {
	var sb strings.Builder
	var walk func(nodes []*Node)
	walk = func(nodes []*Node) {
		for _, n := range nodes {
			sb.WriteString(strings.Repeat("#", n.Level))
			sb.WriteString(" ")
			sb.WriteString(n.Title)
			sb.WriteString("\n")
			walk(n.Children)
		}
	}
	walk(o.Nodes)
	return sb.String()
}

// Walk visits every node depth-first in document order.
func (o *Outline) Walk(fn func(n *Node)) {
	var walk func(nodes []*Node)
	walk = func(nodes []*Node) {
		for _, n := range nodes {
			fn(n)
			walk(n.Children)
		}
	}
	walk(o.Nodes)
}

// AllCitations returns every citation id in the outline, depth-first,
// deduplicated.
func (o *Outline) AllCitations() []string {
	var out []string
	o.Walk(func(n *Node) {
		for _, id := range n.Citations {
			out = appendUnique(out, id)
		}
	})
	return out
}

// Validate checks every citation id against the bank membership predicate.
func (o *Outline) Validate(has func(id string) bool) error {
	var bad []string
	o.Walk(func(n *Node) {
		for _, id := range n.Citations {
			if !has(id) {
				bad = append(bad, id)
			}
		}
	})
	if len(bad) > 0 {
		return &UnresolvedCitationError{IDs: bad}
	}
	return nil
}

// Section is one writer target: a node at the write level with the citation
// pool aggregated from the node and all descendants.
type Section struct {
	Node         *Node
	CandidateIDs []string
	Fragment     string // rendered subtree for the writer prompt
}

// SectionsAtLevel returns the depth-first writer targets at level. When the
// outline has no node at that level, leaves become the targets so flat
// outlines still produce a report.
func (o *Outline) SectionsAtLevel(level int) []Section {
	var picked []*Node
	o.Walk(func(n *Node) {
		if n.Level == level {
			picked = append(picked, n)
		}
	})
	if len(picked) == 0 {
		o.Walk(func(n *Node) {
			if len(n.Children) == 0 {
				picked = append(picked, n)
			}
		})
	}
	out := make([]Section, 0, len(picked))
	for _, n := range picked {
		sub := &Outline{Nodes: []*Node{n}}
		out = append(out, Section{
			Node:         n,
			CandidateIDs: sub.AllCitations(),
			Fragment:     sub.Render(),
		})
	}
	return out
}

// Equal reports structural equality: ids, titles, levels, bullets,
// citations, and child order.
func (o *Outline) Equal(other *Outline) bool {
	if o == nil || other == nil {
		return o == other
	}
	return nodesEqual(o.Nodes, other.Nodes)
}

func nodesEqual(a, b []*Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.Title != y.Title || x.Level != y.Level {
			return false
		}
		if !stringsEqual(x.Bullets, y.Bullets) || !stringsEqual(x.Citations, y.Citations) {
			return false
		}
		if !nodesEqual(x.Children, y.Children) {
			return false
		}
	}
	return true
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
