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

// Package depresolve approximates the mark phase of a linker invoked with
// section-level garbage collection, run ahead of the real link so the
// overwrite-region allocator sees accurate section sizes before any object
// is actually linked.
package depresolve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jetsetilly/ncpatcher/internal/elfview"
	"github.com/jetsetilly/ncpatcher/internal/unitreg"
)

// Ref is an outgoing reference from a section: either to another
// same-named section in the same unit (IsSection) or to a symbol resolved
// across the whole build.
type Ref struct {
	Name      string
	IsSection bool
}

// sectionKey identifies a section uniquely across every unit.
type sectionKey struct {
	unit *unitreg.Unit
	idx  int
}

// SectionInfo is one non-special section, together with the symbols and
// sections it references.
type SectionInfo struct {
	Name       string
	Unit       *unitreg.Unit
	Idx        int
	Size       int
	References []Ref

	isEntry bool
	marked  bool
}

// symbolWinner records the resolved definition of one global symbol name,
// after applying strong/weak override rules.
type symbolWinner struct {
	unit       *unitreg.Unit
	sectionIdx int
	address    uint32
	strong     bool
}

// Graph is the resolver's working set: every section in every unit, plus
// the cross-unit symbol table used to follow non-section references.
type Graph struct {
	sections map[sectionKey]*SectionInfo
	byUnit   map[*unitreg.Unit][]*SectionInfo

	symbols map[string]*symbolWinner
}

// Build scans every unit in reg, decoding each section's outgoing
// references from its relocation table and resolving the cross-unit
// symbol table with the strong/weak override rules of a linker's
// "Symbol info" collision resolution:
//   - strong overrides weak
//   - weak does not override strong
//   - first wins among multiple strongs (with a warning) and among
//     multiple weaks
func Build(reg *unitreg.Registry, warn func(string)) (*Graph, error) {
	g := &Graph{
		sections: make(map[sectionKey]*SectionInfo),
		byUnit:   make(map[*unitreg.Unit][]*SectionInfo),
		symbols:  make(map[string]*symbolWinner),
	}

	for _, u := range reg.All() {
		f := u.ELF
		f.ForEachSection(func(idx int, sh elfview.SectionHeader, name string) {
			if !isTrackedSection(sh, name) {
				return
			}
			si := &SectionInfo{Name: name, Unit: u, Idx: idx, Size: int(sh.Size)}
			k := sectionKey{unit: u, idx: idx}
			g.sections[k] = si
			g.byUnit[u] = append(g.byUnit[u], si)
		})
	}

	for _, u := range reg.All() {
		f := u.ELF
		if err := f.ForEachSymbol(func(sym elfview.Symbol) error {
			if sym.Name == "" || sym.Type() == elfview.STT_SECTION {
				return nil
			}
			bind := sym.Bind()
			if bind != elfview.STB_GLOBAL && bind != elfview.STB_WEAK {
				return nil
			}
			strong := bind == elfview.STB_GLOBAL
			existing, ok := g.symbols[sym.Name]
			switch {
			case !ok:
				g.symbols[sym.Name] = &symbolWinner{unit: u, sectionIdx: int(sym.SHIndex), address: sym.Value, strong: strong}
			case strong && !existing.strong:
				g.symbols[sym.Name] = &symbolWinner{unit: u, sectionIdx: int(sym.SHIndex), address: sym.Value, strong: true}
			case strong && existing.strong:
				if warn != nil {
					warn(fmt.Sprintf("multiple strong definitions of symbol %q; keeping the first seen", sym.Name))
				}
			case !strong && existing.strong:
				// weak does not override strong
			default:
				if warn != nil {
					warn(fmt.Sprintf("multiple weak definitions of symbol %q; keeping the first seen", sym.Name))
				}
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	for _, u := range reg.All() {
		f := u.ELF
		if err := f.ForEachRelocation(func(targetSection int, rels []elfview.Rel) error {
			si, ok := g.sections[sectionKey{unit: u, idx: targetSection}]
			if !ok {
				return nil
			}
			for _, r := range rels {
				sym, ok := f.SymbolByIndex(r.Symbol())
				if !ok {
					continue
				}
				if sym.Type() == elfview.STT_SECTION {
					si.References = append(si.References, Ref{Name: f.SectionName(int(sym.SHIndex)), IsSection: true})
				} else if sym.Name != "" {
					si.References = append(si.References, Ref{Name: sym.Name, IsSection: false})
				}
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// isTrackedSection excludes the special sections the resolver never needs
// to reason about (string/symbol tables, relocation sections, debug info).
func isTrackedSection(sh elfview.SectionHeader, name string) bool {
	if sh.Size == 0 || strings.HasPrefix(name, ".debug") {
		return false
	}
	switch sh.Type {
	case elfview.SHT_SYMTAB, elfview.SHT_DYNSYM, elfview.SHT_REL, elfview.SHT_STRTAB, elfview.SHT_NULL:
		return false
	}
	return true
}

// MarkEntry marks the section at (unit, idx) as a root: a patch-record
// source/destination section, or a section defining an external symbol.
func (g *Graph) MarkEntry(unit *unitreg.Unit, idx int) {
	if si, ok := g.sections[sectionKey{unit: unit, idx: idx}]; ok {
		si.isEntry = true
	}
}

// MarkEntrySymbol marks the section defining name as a root. Used for the
// external-symbols list the extractor produces.
func (g *Graph) MarkEntrySymbol(name string) {
	if w, ok := g.symbols[name]; ok {
		g.MarkEntry(w.unit, w.sectionIdx)
	}
}

// ResolveSymbolAddress looks up name in the cross-unit symbol table,
// preferring a definition local to unit if one is marked, else the winner
// chosen by Build's strong/weak rules. It is exported for patchdir's
// PendingSrcThumb resolution (ncp_set payloads that are still zero at
// extraction time, pending the cross-unit symbol table this package owns).
func (g *Graph) ResolveSymbolAddress(unit *unitreg.Unit, name string) (uint32, bool) {
	if unit != nil {
		var addr uint32
		found := false
		_ = unit.ELF.ForEachSymbol(func(sym elfview.Symbol) error {
			if !found && sym.Name == name && sym.Bind() == elfview.STB_LOCAL && sym.SHIndex != 0 && g.Marked(unit, int(sym.SHIndex)) {
				addr, found = sym.Value, true
			}
			return nil
		})
		if found {
			return addr, true
		}
	}
	if w, ok := g.symbols[name]; ok {
		return w.address, true
	}
	return 0, false
}

// Mark runs the garbage-collection worklist fixed-point: starting
// from every entry-point section, follow intra-unit section references and
// cross-unit symbol references until no new section is marked.
func (g *Graph) Mark(verbose func(msg string)) {
	var worklist []*SectionInfo
	for _, si := range g.sections {
		if si.isEntry && !si.marked {
			si.marked = true
			worklist = append(worklist, si)
		}
	}

	for len(worklist) > 0 {
		si := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		for _, ref := range si.References {
			if ref.IsSection {
				for _, cand := range g.byUnit[si.Unit] {
					if cand.Name == ref.Name && !cand.marked {
						cand.marked = true
						worklist = append(worklist, cand)
						if verbose != nil {
							verbose(fmt.Sprintf("%s:%s -> %s (section)", si.Unit.Path, si.Name, cand.Name))
						}
					}
				}
				continue
			}

			w, ok := g.symbols[ref.Name]
			if !ok {
				continue
			}
			target, ok := g.sections[sectionKey{unit: w.unit, idx: w.sectionIdx}]
			if !ok || target.marked {
				if verbose != nil && ok && target != nil {
					verbose(fmt.Sprintf("%s:%s -> %s (symbol %s, back-edge) ⚠", si.Unit.Path, si.Name, target.Name, ref.Name))
				}
				continue
			}
			target.marked = true
			worklist = append(worklist, target)
			if verbose != nil {
				verbose(fmt.Sprintf("%s:%s -> %s (symbol %s)", si.Unit.Path, si.Name, target.Name, ref.Name))
			}
		}
	}
}

// Marked reports whether the section at (unit, idx) survived marking.
func (g *Graph) Marked(unit *unitreg.Unit, idx int) bool {
	si, ok := g.sections[sectionKey{unit: unit, idx: idx}]
	return ok && si.marked
}

// Candidate mirrors patchdir.SectionCandidate's shape without importing
// that package, to keep depresolve free of a dependency on the extractor.
type Candidate interface {
	Unit() *unitreg.Unit
	Index() int
}

// ExcludeUnused filters candidates (name, unit pairs identified by the
// supplied accessor functions) down to those whose section survived
// marking.
func (g *Graph) ExcludeUnused(n int, unitAt func(i int) *unitreg.Unit, idxAt func(i int) int) []int {
	var out []int
	for i := 0; i < n; i++ {
		if g.Marked(unitAt(i), idxAt(i)) {
			out = append(out, i)
		}
	}
	return out
}

// EntryPoints returns every section marked as a root: a patch record's
// source/destination section, or a section defining an external symbol.
// Used by internal/depgraph to render the dependency tree starting from
// the same roots Mark() seeded its worklist from.
func (g *Graph) EntryPoints() []*SectionInfo {
	var out []*SectionInfo
	for _, si := range g.sections {
		if si.isEntry {
			out = append(out, si)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Unit.ID != out[j].Unit.ID {
			return out[i].Unit.ID < out[j].Unit.ID
		}
		return out[i].Idx < out[j].Idx
	})
	return out
}

// Targets resolves si's outgoing references to the marked SectionInfo
// values they point at: same-unit sections for a section reference,
// cross-unit symbol definitions for a symbol reference. Unresolvable
// references (an unmarked or external symbol) are omitted.
func (g *Graph) Targets(si *SectionInfo) []*SectionInfo {
	var out []*SectionInfo
	for _, ref := range si.References {
		if ref.IsSection {
			for _, cand := range g.byUnit[si.Unit] {
				if cand.Name == ref.Name && cand.marked {
					out = append(out, cand)
				}
			}
			continue
		}
		w, ok := g.symbols[ref.Name]
		if !ok {
			continue
		}
		if target, ok := g.sections[sectionKey{unit: w.unit, idx: w.sectionIdx}]; ok && target.marked {
			out = append(out, target)
		}
	}
	return out
}

// MarkedSections returns every section that survived marking, in a stable
// order (by unit ID, then section index).
func (g *Graph) MarkedSections() []*SectionInfo {
	var out []*SectionInfo
	for _, si := range g.sections {
		if si.marked {
			out = append(out, si)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Unit.ID != out[j].Unit.ID {
			return out[i].Unit.ID < out[j].Unit.ID
		}
		return out[i].Idx < out[j].Idx
	})
	return out
}
