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

package romwriter

import (
	"github.com/jetsetilly/ncpatcher/internal/curated"
	"github.com/jetsetilly/ncpatcher/internal/elfview"
	"github.com/jetsetilly/ncpatcher/internal/overwrite"
)

// ApplyOverwriteRegions writes every packed overwrite region's linked bytes
// into its destination CodeBin, at the address the allocator chose.
func ApplyOverwriteRegions(f *elfview.File, bins Bins, regions []overwrite.Region) error {
	for _, r := range regions {
		if len(r.Assigned) == 0 {
			continue
		}
		bin, ok := bins[r.Dest]
		if !ok {
			return curated.Errorf(curated.InvalidDestinationMode, r.MemName, r.Dest)
		}
		idx, ok := f.SectionIndex("." + r.MemName)
		if !ok {
			continue
		}
		if err := bin.WriteBytes(r.Start, f.SectionData(idx)); err != nil {
			return err
		}
	}
	return nil
}
