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

// Package patchdir decodes the ELF sections and symbols of every
// compilation unit into patch records: branch sites, hook sites, overwrite
// blocks, and run-time-replacement blobs. It also produces two collections
// the later passes need: the set of sections that could still be included
// in the build (overwrite candidates) and the set of symbol names the
// linker must never garbage-collect (external symbols).
package patchdir

import (
	"sort"
	"strings"

	"github.com/jetsetilly/ncpatcher/internal/curated"
	"github.com/jetsetilly/ncpatcher/internal/elfview"
	"github.com/jetsetilly/ncpatcher/internal/unitreg"
)

// PatchRecord is one directive resolved against its compilation unit.
type PatchRecord struct {
	Symbol   string
	Unit     *unitreg.Unit
	Origin   Origin
	Type     Op
	IsNcpSet bool

	SrcAddress   uint32
	SrcAddressOv int
	DstAddress   uint32
	DstAddressOv int

	SrcThumb bool
	DstThumb bool

	// SectionIdx is the section the directive was declared in; -1 if the
	// record started life as a plain symbol (before symver resolution, or
	// for the lifetime of a Symbol-origin record).
	SectionIdx int
	// SectionSize is only meaningful for Over records: the number of bytes
	// the section contributes at the destination.
	SectionSize int
}

// PendingSrcThumb names a ncp_set patch whose function-pointer word could
// not be resolved against symbols local to its own unit; a later pass with
// visibility into every unit's symbol table must resolve it.
type PendingSrcThumb struct {
	PatchIndex int
	Unit       *unitreg.Unit
	SymbolName string
}

// PendingSymver names a symver-origin patch record awaiting resolution of
// its placeholder symbol name against the real function body.
type PendingSymver struct {
	PatchIndex int
	Unit       *unitreg.Unit
	// SectionIdx and Value locate the symver marker symbol; the resolved
	// record is the first STT_FUNC symbol in the same section, with no '@'
	// in its name, whose value matches.
	SectionIdx int
	Value      uint32
}

// SectionCandidate is a section that survived the "could plausibly ship"
// filter and is eligible for dependency-resolver marking.
type SectionCandidate struct {
	Unit *unitreg.Unit
	Idx  int
	Name string
	Size int
}

// Result is everything the extractor produces from a registry.
type Result struct {
	Patches             []PatchRecord
	OverwriteCandidates []SectionCandidate
	ExternalSymbols     []string

	PendingSrcThumb []PendingSrcThumb
	PendingSymver   []PendingSymver
}

// RtReplMarkers returns the subset of patches marked for runtime
// replacement: self-contained blobs the linker emits <name>_start/<name>_end
// labels for, rather than a branch site.
func (r *Result) RtReplMarkers() []PatchRecord {
	var out []PatchRecord
	for _, p := range r.Patches {
		if p.Type == RtRepl {
			out = append(out, p)
		}
	}
	return out
}

// AppendModeFunc reports whether the overlay identified by ov (as found in
// a patch's destination tag) is configured in append mode. ov == -1, the
// main ARM binary, is always append mode.
type AppendModeFunc func(ov int) bool

// Extract decodes every unit in reg into patch records, overwrite
// candidates and external symbols.
func Extract(reg *unitreg.Registry, appendMode AppendModeFunc) (*Result, error) {
	res := &Result{}

	for _, u := range reg.All() {
		if err := extractUnit(u, appendMode, res); err != nil {
			return nil, err
		}
	}

	resolveSourceThumb(res)

	if err := checkOverlaps(res.Patches); err != nil {
		return nil, err
	}

	res.ExternalSymbols = externalSymbols(res.Patches)

	return res, nil
}

func extractUnit(u *unitreg.Unit, appendMode AppendModeFunc, res *Result) error {
	f := u.ELF

	// Section-form directives, and overwrite-candidate classification.
	var extractErr error
	f.ForEachSection(func(idx int, sh elfview.SectionHeader, name string) {
		if extractErr != nil {
			return
		}
		if isOverwriteCandidate(name, int(sh.Size)) {
			res.OverwriteCandidates = append(res.OverwriteCandidates, SectionCandidate{
				Unit: u, Idx: idx, Name: name, Size: int(sh.Size),
			})
		}

		d, origin, ok := parseDirectiveName(name)
		if !ok || origin != OriginSection {
			return
		}
		if d.op == Dest {
			// recognised, never acted on - see Op.Dest.
			return
		}

		rec := PatchRecord{
			Symbol:       name,
			Unit:         u,
			Origin:       OriginSection,
			Type:         d.op,
			IsNcpSet:     d.isNcpSet,
			DstAddress:   d.addr &^ 1,
			DstAddressOv: d.overlay,
			DstThumb:     d.destThumb || d.addr&1 != 0,
			SectionIdx:   idx,
			SectionSize:  int(sh.Size),
		}

		if !appendMode(rec.DstAddressOv) {
			extractErr = curated.Errorf(curated.InvalidDestinationMode, name, rec.DstAddressOv)
			return
		}

		if rec.IsNcpSet {
			if sh.Size != 4 {
				extractErr = invalidDirective(name, "ncp_set section must be exactly 4 bytes")
				return
			}
			thumb, pending, err := resolveNcpSetThumb(u, idx, name)
			if err != nil {
				extractErr = err
				return
			}
			if pending != nil {
				pending.PatchIndex = len(res.Patches)
				res.PendingSrcThumb = append(res.PendingSrcThumb, *pending)
			} else {
				rec.SrcThumb = thumb
			}
		}

		res.Patches = append(res.Patches, rec)
	})
	if extractErr != nil {
		return extractErr
	}

	// Symbol-form and symver-form directives.
	return f.ForEachSymbol(func(sym elfview.Symbol) error {
		d, origin, ok := parseDirectiveName(sym.Name)
		if !ok || origin == OriginSection {
			return nil
		}
		if d.op == Dest {
			// recognised, never acted on - see Op.Dest.
			return nil
		}

		if d.op == Over {
			return invalidDirective(sym.Name, "over requires a section, not a symbol")
		}

		if !appendMode(d.overlay) {
			return curated.Errorf(curated.InvalidDestinationMode, sym.Name, d.overlay)
		}

		rec := PatchRecord{
			Symbol:       sym.Name,
			Unit:         u,
			Origin:       origin,
			Type:         d.op,
			IsNcpSet:     d.isNcpSet,
			DstAddress:   d.addr &^ 1,
			DstAddressOv: d.overlay,
			DstThumb:     d.destThumb || d.addr&1 != 0,
			SectionIdx:   -1,
		}

		res.Patches = append(res.Patches, rec)

		if origin == OriginSymver {
			res.PendingSymver = append(res.PendingSymver, PendingSymver{
				PatchIndex: len(res.Patches) - 1,
				Unit:       u,
				SectionIdx: int(sym.SHIndex),
				Value:      sym.Value,
			})
		}

		return nil
	})
}

// resolveNcpSetThumb reads the 4-byte function-pointer payload of an
// ncp_set section and returns the THUMB bit of the pointer it holds. If the
// word is zero (an unresolved relocation, not yet linked) it attempts local
// resolution through the unit's own relocation table; failing that, it
// returns a PendingSrcThumb for a later cross-unit pass to settle.
func resolveNcpSetThumb(u *unitreg.Unit, sectionIdx int, name string) (thumb bool, pending *PendingSrcThumb, err error) {
	data := u.ELF.SectionData(sectionIdx)
	if len(data) < 4 {
		return false, nil, invalidDirective(name, "ncp_set section data is not readable")
	}
	word := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24

	if word != 0 {
		return word&1 != 0, nil, nil
	}

	var symName string
	foundLocal := false
	_ = u.ELF.ForEachRelocation(func(targetSection int, rels []elfview.Rel) error {
		if targetSection != sectionIdx || foundLocal {
			return nil
		}
		for _, r := range rels {
			if r.Offset != 0 {
				continue
			}
			sym, ok := u.ELF.SymbolByIndex(r.Symbol())
			if !ok {
				continue
			}
			if sym.Value != 0 {
				thumb = sym.Value&1 != 0
				foundLocal = true
				return nil
			}
			symName = sym.Name
		}
		return nil
	})
	if foundLocal {
		return thumb, nil, nil
	}
	if symName == "" {
		return false, nil, invalidDirective(name, "ncp_set payload is an unresolved zero word with no relocation to follow")
	}
	return false, &PendingSrcThumb{Unit: u, SymbolName: symName}, nil
}

// resolveSourceThumb implements the "THUMB detection for source" pass:
// every patch whose SectionIdx names a unit section is matched against the
// unit's own function symbols defined in that section, and takes the
// LSB of the first match's address.
func resolveSourceThumb(res *Result) {
	for i := range res.Patches {
		p := &res.Patches[i]
		if p.IsNcpSet || p.SectionIdx < 0 {
			continue
		}
		p.Unit.ELF.ForEachSymbol(func(sym elfview.Symbol) error {
			if sym.Type() != elfview.STT_FUNC || int(sym.SHIndex) != p.SectionIdx {
				return nil
			}
			p.SrcThumb = sym.Value&1 != 0
			return errStopIteration
		})
	}
}

// errStopIteration is used internally to short-circuit a ForEachSymbol
// walk once the first match has been found; it never escapes this package.
var errStopIteration = stopIteration{}

type stopIteration struct{}

func (stopIteration) Error() string { return "stop" }

// isOverwriteCandidate applies the naming rule for sections that might
// still ship in the final image.
func isOverwriteCandidate(name string, size int) bool {
	if size == 0 {
		return false
	}
	if strings.HasPrefix(name, ".rel") || strings.HasPrefix(name, ".debug") {
		return false
	}
	switch name {
	case ".shstrtab", ".strtab", ".symtab":
		return false
	}
	prefixes := []string{
		".text", ".rodata", ".init_array", ".data", ".bss",
		".ncp_jump", ".ncp_call", ".ncp_hook", ".ncp_tjump", ".ncp_tcall", ".ncp_thook",
	}
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// externalSymbols collects the de-duplicated set of symbol names a
// Symbol- or Symver-origin patch contributes, in first-seen order.
func externalSymbols(patches []PatchRecord) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range patches {
		if p.Origin == OriginSection {
			continue
		}
		if seen[p.Symbol] {
			continue
		}
		seen[p.Symbol] = true
		out = append(out, p.Symbol)
	}
	return out
}

// overwriteAmount is the number of destination bytes a patch occupies, for
// overlap purposes. A THUMB-site jump writes the full 8-byte
// push/branch-link/pop trampoline at the site; every other non-Over patch
// writes a single 4-byte instruction (an ARM site jumping to a THUMB
// source still writes only a B - its 8-byte bridge lives in the autogen
// arena, not at the site).
func overwriteAmount(p PatchRecord) int {
	switch {
	case p.Type == Over:
		return p.SectionSize
	case p.Type == Jump && p.DstThumb:
		return 8
	default:
		return 4
	}
}

// checkOverlaps rejects any two patches whose destination byte ranges
// intersect within the same destination tag.
func checkOverlaps(patches []PatchRecord) error {
	byDest := make(map[int][]int)
	for i, p := range patches {
		byDest[p.DstAddressOv] = append(byDest[p.DstAddressOv], i)
	}
	for _, idxs := range byDest {
		sort.Slice(idxs, func(a, b int) bool {
			return patches[idxs[a]].DstAddress < patches[idxs[b]].DstAddress
		})
		for i := 1; i < len(idxs); i++ {
			prev := patches[idxs[i-1]]
			cur := patches[idxs[i]]
			prevEnd := prev.DstAddress + uint32(overwriteAmount(prev))
			if cur.DstAddress < prevEnd {
				return curated.Errorf(curated.OverlappingPatches, prev.Symbol, cur.Symbol)
			}
		}
	}
	return nil
}

// ResolvePendingSymver settles every PendingSymver entry by scanning the
// same unit's symbol table for the first STT_FUNC symbol with no '@' in its
// name, matching section index and value.
func (r *Result) ResolvePendingSymver() error {
	for _, pend := range r.PendingSymver {
		resolved := ""
		pend.Unit.ELF.ForEachSymbol(func(sym elfview.Symbol) error {
			if resolved != "" {
				return nil
			}
			if sym.Type() != elfview.STT_FUNC {
				return nil
			}
			if strings.Contains(sym.Name, "@") {
				return nil
			}
			if int(sym.SHIndex) != pend.SectionIdx || sym.Value != pend.Value {
				return nil
			}
			resolved = sym.Name
			return nil
		})
		if resolved == "" {
			return curated.Errorf(curated.UnresolvedSymver, r.Patches[pend.PatchIndex].Symbol)
		}
		rec := &r.Patches[pend.PatchIndex]
		rec.Symbol = resolved
		rec.SectionIdx = pend.SectionIdx
	}
	r.PendingSymver = nil
	return nil
}

// ResolvePendingSrcThumb settles every PendingSrcThumb entry using lookup,
// a caller-supplied cross-unit symbol-address resolver (typically backed
// by the dependency resolver's symbol table).
func (r *Result) ResolvePendingSrcThumb(lookup func(unit *unitreg.Unit, name string) (uint32, bool)) error {
	for _, pend := range r.PendingSrcThumb {
		addr, ok := lookup(pend.Unit, pend.SymbolName)
		if !ok {
			return curated.Errorf(curated.UnresolvedSymver, pend.SymbolName)
		}
		r.Patches[pend.PatchIndex].SrcThumb = addr&1 != 0
	}
	r.PendingSrcThumb = nil
	return nil
}
