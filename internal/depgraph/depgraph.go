// This file is part of NCPatcher.
//
// NCPatcher is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// NCPatcher is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with NCPatcher.  If not, see <https://www.gnu.org/licenses/>.

// Package depgraph renders the dependency resolver's marked section graph
// to a Graphviz .dot file via memviz, the same "walk an in-memory pointer
// graph with reflection" job memviz exists for. It is wired to
// --verbose-tag section (or all), alongside the textual dependency tree
// that depresolve.Graph.Mark prints on the same channel.
package depgraph

import (
	"fmt"
	"io"

	"github.com/bradleyjkemp/memviz"
	"github.com/jetsetilly/ncpatcher/internal/depresolve"
)

// node is the pointer-linked graph memviz walks by reflection: each
// section becomes one node, and an edge is a pointer to the node it
// references, so memviz.Map draws it as an arrow without this package
// needing to know anything about Graphviz syntax itself.
type node struct {
	Label string
	To    []*node
}

// Export walks every entry point of g and its transitive references,
// building a pointer graph and handing it to memviz.Map to render as a
// Graphviz .dot document written to w.
func Export(g *depresolve.Graph, w io.Writer) error {
	nodes := make(map[*depresolve.SectionInfo]*node)

	var visit func(si *depresolve.SectionInfo) *node
	visit = func(si *depresolve.SectionInfo) *node {
		if n, ok := nodes[si]; ok {
			return n
		}
		n := &node{Label: label(si)}
		nodes[si] = n
		for _, target := range g.Targets(si) {
			if target == si {
				continue // a section referencing itself is not a useful edge
			}
			n.To = append(n.To, visit(target))
		}
		return n
	}

	roots := &struct {
		Roots []*node
	}{}
	for _, si := range g.EntryPoints() {
		roots.Roots = append(roots.Roots, visit(si))
	}

	memviz.Map(w, roots)
	return nil
}

func label(si *depresolve.SectionInfo) string {
	return fmt.Sprintf("%s:%s", si.Unit.Path, si.Name)
}
