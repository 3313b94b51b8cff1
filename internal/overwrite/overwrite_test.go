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

package overwrite_test

import (
	"testing"

	"github.com/jetsetilly/ncpatcher/internal/overwrite"
	"github.com/jetsetilly/ncpatcher/internal/test"
)

func TestAllocateFitsLargestFirstAndLeavesTheRestUnplaced(t *testing.T) {
	ranges := map[int][]overwrite.Range{
		-1: {{Start: 0x02005000, End: 0x020050c0}}, // 192 bytes
	}
	sections := []overwrite.Section{
		{Name: "a", Size: 120, Alignment: 4, Dest: -1},
		{Name: "b", Size: 48, Alignment: 4, Dest: -1},
		{Name: "c", Size: 40, Alignment: 4, Dest: -1},
	}

	regions, unplaced := overwrite.Allocate(ranges, sections)

	test.Equate(t, len(regions), 1)
	test.Equate(t, len(regions[0].Assigned), 2)
	test.Equate(t, regions[0].Assigned[0].Section.Name, "a")
	test.Equate(t, regions[0].Assigned[0].Address, uint32(0x02005000))
	test.Equate(t, regions[0].Assigned[1].Section.Name, "b")
	test.Equate(t, regions[0].Assigned[1].Address, uint32(0x02005078))

	test.Equate(t, len(unplaced), 1)
	test.Equate(t, unplaced[0].Name, "c")
}

func TestAllocateWithNoDeclaredRangesLeavesEverythingUnplaced(t *testing.T) {
	sections := []overwrite.Section{
		{Name: "a", Size: 16, Alignment: 4, Dest: 3},
	}
	regions, unplaced := overwrite.Allocate(nil, sections)
	test.Equate(t, len(regions), 0)
	test.Equate(t, len(unplaced), 1)
}
