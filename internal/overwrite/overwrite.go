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

// Package overwrite packs surviving sections into user-declared reclaimable
// address ranges ahead of linking, using a best-fit-by-size policy, so the
// linker script can place each section at an exact address rather than
// relying on the linker's own allocator.
package overwrite

import (
	"fmt"
	"sort"

	"github.com/jetsetilly/ncpatcher/internal/unitreg"
)

// Range is one reclaimable byte range declared by the user configuration
// for a destination (main ARM or a specific overlay).
type Range struct {
	Start, End uint32
}

// Section is one candidate section the caller wants packed into a
// destination's ranges.
type Section struct {
	Unit      *unitreg.Unit
	Idx       int
	Name      string
	Size      int
	Alignment uint32
	Dest      int // -1 for main ARM, else overlay id
}

// Region is one reclaimable range after packing, with every section that
// was committed into it.
type Region struct {
	Start, End uint32
	Dest       int
	Used       uint32
	Assigned   []Placement
	MemName    string
}

// Placement records where one section landed inside a Region.
type Placement struct {
	Section Section
	Address uint32
}

func alignUp(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// Allocate packs sections into ranges, grouped and processed independently
// per destination. It returns, in range declaration order, the Region for
// every range (whether or not anything was placed in it) and the subset of
// sections that could not be placed anywhere (callers fall these through to
// the destination's ordinary newcode block).
func Allocate(ranges map[int][]Range, sections []Section) (regions []Region, unplaced []Section) {
	dests := make([]int, 0, len(ranges))
	for dest := range ranges {
		dests = append(dests, dest)
	}
	sort.Ints(dests)

	// seed one Region per declared range, preserving declaration order
	// within each destination.
	regionsByDest := make(map[int][]*Region)
	for _, dest := range dests {
		for i, r := range ranges[dest] {
			reg := &Region{Start: r.Start, End: r.End, Dest: dest, MemName: memName(dest, i)}
			regionsByDest[dest] = append(regionsByDest[dest], reg)
		}
	}

	bySize := make(map[int][]Section)
	var secDests []int
	for _, s := range sections {
		if _, ok := bySize[s.Dest]; !ok {
			secDests = append(secDests, s.Dest)
		}
		bySize[s.Dest] = append(bySize[s.Dest], s)
	}
	sort.Ints(secDests)

	for _, dest := range secDests {
		secs := bySize[dest]
		destRegions := regionsByDest[dest]
		if len(destRegions) == 0 {
			unplaced = append(unplaced, secs...)
			continue
		}

		sort.SliceStable(secs, func(i, j int) bool { return secs[i].Size > secs[j].Size })

		for _, s := range secs {
			sort.SliceStable(destRegions, func(i, j int) bool {
				freeI := destRegions[i].End - destRegions[i].Start - destRegions[i].Used
				freeJ := destRegions[j].End - destRegions[j].Start - destRegions[j].Used
				return freeI > freeJ
			})

			placed := false
			for _, reg := range destRegions {
				addr := alignUp(reg.Start+reg.Used, s.Alignment)
				if addr+uint32(s.Size) <= reg.End {
					reg.Used = addr + uint32(s.Size) - reg.Start
					reg.Assigned = append(reg.Assigned, Placement{Section: s, Address: addr})
					placed = true
					break
				}
			}
			if !placed {
				unplaced = append(unplaced, s)
			}
		}
	}

	// rebuild `regions` (the return slice) from the mutated pointers, in
	// original declaration order, with destinations in a fixed (sorted)
	// order so the linker-script synthesiser sees a deterministic MEMORY
	// layout across runs.
	for _, dest := range dests {
		for _, reg := range regionsByDest[dest] {
			regions = append(regions, *reg)
		}
	}
	return regions, unplaced
}

// memName derives the MEMORY region name the linker-script synthesiser
// gives an overwrite region: ovw_arm_<N> for the main binary, ovw_ovNN_<N>
// for an overlay.
func memName(dest, idx int) string {
	if dest < 0 {
		return fmt.Sprintf("ovw_arm_%d", idx)
	}
	return fmt.Sprintf("ovw_ov%d_%d", dest, idx)
}
