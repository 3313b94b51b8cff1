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

// Package finalize walks the linked ELF produced by internal/linkscript and
// fills in the fields of every patch record that could only be known after
// linking: the real source address of the annotated function, the data of
// each `over` section, the base of every autogen-data arena, and the
// newcode/BSS payload the linker produced for each destination.
package finalize

import (
	"fmt"
	"strings"

	"github.com/jetsetilly/ncpatcher/internal/curated"
	"github.com/jetsetilly/ncpatcher/internal/elfview"
	"github.com/jetsetilly/ncpatcher/internal/overwrite"
	"github.com/jetsetilly/ncpatcher/internal/patchdir"
)

// Arena is one destination's autogen-data arena: a writable region the
// linker reserved (see linkscript's AutogenLabel/AutogenSize) where
// trampoline bridges are appended.
type Arena struct {
	Dest    int
	Base    uint32
	Current uint32
	Buffer  []byte
}

// Newcode is the aggregate new material the linker placed for one
// destination, beyond what the overwrite allocator absorbed.
type Newcode struct {
	Dest          int
	CodeAddr      uint32
	CodeData      []byte
	CodeAlignment uint32
	BSSSize       uint32
	BSSAlignment  uint32
}

// Result is everything the finaliser recovered from the linked ELF.
type Result struct {
	Arenas   map[int]*Arena
	Newcodes map[int]*Newcode
}

// arenaSymbolPrefix is the symbol name the linker script anchors an
// autogen-data arena to: "ncp_autogendata" for the main ARM binary,
// "ncp_autogendata_ovN" for overlay N.
const arenaSymbolPrefix = "ncp_autogendata"

// Finalize resolves src_address/section_idx for every patch record in
// patches (mutated in place), reads every `.ncp_set*` section's payload,
// locates every autogen-data arena and newcode payload, and fills the
// actual linked size (Used) of every overwrite region (mutated in place).
// regions and patches must be from the same build: regions' MemName must
// match the linker-script section names finalize looks for.
func Finalize(f *elfview.File, patches []patchdir.PatchRecord, regions []overwrite.Region, warn func(string)) (*Result, error) {
	res := &Result{Arenas: map[int]*Arena{}, Newcodes: map[int]*Newcode{}}

	symByName := map[string]elfview.Symbol{}
	if err := f.ForEachSymbol(func(sym elfview.Symbol) error {
		if sym.Name != "" {
			if _, ok := symByName[sym.Name]; !ok {
				symByName[sym.Name] = sym
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	for i := range patches {
		p := &patches[i]

		if p.IsNcpSet {
			if err := resolveNcpSet(f, p); err != nil {
				return nil, err
			}
			continue
		}

		name := p.Symbol
		if sym, ok := symByName[name]; ok {
			p.SrcAddress = sym.Value &^ 1
			p.SectionIdx = int(sym.SHIndex)
			continue
		}
		if strings.HasPrefix(name, ".") {
			if sym, ok := symByName[strings.TrimPrefix(name, ".")]; ok {
				p.SrcAddress = sym.Value &^ 1
				p.SectionIdx = int(sym.SHIndex)
			}
		}
	}

	// Over patches: match a section whose name equals the patch's symbol.
	for i := range patches {
		p := &patches[i]
		if p.Type != patchdir.Over {
			continue
		}
		if idx, ok := f.SectionIndex(p.Symbol); ok {
			sh := f.SectionHeader(idx)
			p.SrcAddress = sh.Addr
			p.SectionIdx = idx
		}
	}

	// Autogen-data arenas: one per symbol named ncp_autogendata[_ovN].
	for name, sym := range symByName {
		if name != arenaSymbolPrefix && !strings.HasPrefix(name, arenaSymbolPrefix+"_ov") {
			continue
		}
		dest := -1
		if rest := strings.TrimPrefix(name, arenaSymbolPrefix+"_ov"); rest != name {
			fmt.Sscanf(rest, "%d", &dest)
		}
		res.Arenas[dest] = &Arena{Dest: dest, Base: sym.Value, Current: sym.Value}
	}

	// Newcode payloads: sections named .arm/.arm.bss or .ovN/.ovN.bss.
	f.ForEachSection(func(idx int, sh elfview.SectionHeader, name string) {
		dest, isBSS, ok := parseDestSection(name)
		if !ok {
			return
		}
		nc := res.Newcodes[dest]
		if nc == nil {
			nc = &Newcode{Dest: dest}
			res.Newcodes[dest] = nc
		}
		if isBSS {
			nc.BSSSize = sh.Size
			nc.BSSAlignment = sh.AddrAlign
		} else {
			nc.CodeAddr = sh.Addr
			nc.CodeData = f.SectionData(idx)
			nc.CodeAlignment = sh.AddrAlign
		}
	})

	// Overwrite regions: locate each by its MemName, fill actual size,
	// reject if it exceeds the reclaimable range.
	for i := range regions {
		r := &regions[i]
		idx, ok := f.SectionIndex("." + r.MemName)
		if !ok {
			continue
		}
		sh := f.SectionHeader(idx)
		if sh.Size != r.Used && warn != nil {
			warn(fmt.Sprintf("overwrite region %s: linked size %d differs from allocator projection %d", r.MemName, sh.Size, r.Used))
		}
		if sh.Size > r.End-r.Start {
			return nil, curated.Errorf(curated.OverlappingPatches, r.MemName, "overwrite region exceeds its reclaimable range")
		}
		r.Used = sh.Size
	}

	if err := checkOverlapWithRegions(patches, regions); err != nil {
		return nil, err
	}

	return res, nil
}

// resolveNcpSet reads the 4-byte payload of an `.ncp_set*` section and
// takes payload&^1 as the patch's src_address (the stored bit 0 was
// already captured as SrcThumb during extraction).
func resolveNcpSet(f *elfview.File, p *patchdir.PatchRecord) error {
	// the record's SectionIdx numbers the unit's own section table; the
	// linked ELF has its own numbering, so the output section is found by
	// name, the same way an Over patch's section is.
	idx, ok := f.SectionIndex(p.Symbol)
	if !ok {
		return curated.Errorf(curated.InvalidDirective, p.Symbol, "ncp_set section is missing from the linked ELF")
	}
	data := f.SectionData(idx)
	if len(data) < 4 {
		return curated.Errorf(curated.InvalidDirective, p.Symbol, "ncp_set section is not readable after linking")
	}
	word := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	p.SrcAddress = word &^ 1
	p.SectionIdx = idx
	return nil
}

// parseDestSection recognizes a linked newcode section name, returning the
// destination tag and whether it's the BSS half.
func parseDestSection(name string) (dest int, isBSS bool, ok bool) {
	switch {
	case name == ".arm":
		return -1, false, true
	case name == ".arm.bss":
		return -1, true, true
	case strings.HasPrefix(name, ".ov"):
		rest := strings.TrimPrefix(name, ".ov")
		isBSS = strings.HasSuffix(rest, ".bss")
		rest = strings.TrimSuffix(rest, ".bss")
		var n int
		if _, err := fmt.Sscanf(rest, "%d", &n); err != nil {
			return 0, false, false
		}
		return n, isBSS, true
	}
	return 0, false, false
}

// checkOverlapWithRegions is the second overlap check, run after linking:
// no patch's destination byte range may intersect any overwrite region's
// placed byte range.
func checkOverlapWithRegions(patches []patchdir.PatchRecord, regions []overwrite.Region) error {
	for _, p := range patches {
		for _, r := range regions {
			if p.DstAddressOv != r.Dest {
				continue
			}
			pEnd := p.DstAddress + uint32(patchSize(p))
			if p.DstAddress < r.Start+r.Used && pEnd > r.Start {
				return curated.Errorf(curated.OverlappingPatches, p.Symbol, r.MemName)
			}
		}
	}
	return nil
}

// patchSize mirrors the extractor's overwrite-amount rule: 8 bytes for the
// trampoline a THUMB-site jump writes at its destination, 4 for any other
// non-Over patch.
func patchSize(p patchdir.PatchRecord) int {
	switch {
	case p.Type == patchdir.Over:
		return p.SectionSize
	case p.Type == patchdir.Jump && p.DstThumb:
		return 8
	default:
		return 4
	}
}
