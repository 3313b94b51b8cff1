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
	"github.com/jetsetilly/ncpatcher/internal/finalize"
	"github.com/jetsetilly/ncpatcher/internal/romio"
)

// OverlayNewcodeMode selects how a destination overlay's new code is
// married to the overlay's existing payload.
type OverlayNewcodeMode int

const (
	// OverlayAppend grows an existing overlay: its implicit BSS tail is
	// made concrete, the new code is appended after it, and its ram/bss
	// sizes grow to match.
	OverlayAppend OverlayNewcodeMode = iota
	// OverlayReplace discards the overlay's previous payload outright and
	// substitutes the new code as the overlay's entire content.
	OverlayReplace
	// OverlayCreate would synthesise a brand new overlay file; this engine
	// has no overlay-table-growing story and always rejects it.
	OverlayCreate
)

// ApplyOverlayNewcode applies dest's new code to ov/entry according to mode.
// newcodeAddr is the runtime load address the linker placed the new code
// section at; for Append it must equal the overlay's existing RamAddress
// plus its current (post-BSS-materialisation) size, since appended code is
// never relocated independently of the overlay it grows into. maxSize is
// the overlay's configured maximum size in bytes (0 means unbounded).
func ApplyOverlayNewcode(ov *romio.OverlayBin, entry *romio.OvtEntry, nc *finalize.Newcode, mode OverlayNewcodeMode, newcodeAddr, maxSize uint32) error {
	switch mode {
	case OverlayAppend:
		return applyOverlayAppend(ov, entry, nc, maxSize)
	case OverlayReplace:
		return applyOverlayReplace(ov, entry, nc, newcodeAddr)
	default:
		return curated.Errorf(curated.InvalidDestinationMode, ov.Path, ov.OverlayID)
	}
}

func applyOverlayAppend(ov *romio.OverlayBin, entry *romio.OvtEntry, nc *finalize.Newcode, maxSize uint32) error {
	if nc == nil || (len(nc.CodeData) == 0 && nc.BSSSize == 0) {
		return nil
	}

	dataPtr := ov.Data.Data()
	data := *dataPtr

	oldRamSize := entry.RamSize
	oldBssSize := entry.BssSize
	binSize := uint32(len(nc.CodeData))

	// the overlay's implicit BSS tail becomes concrete zeroed data: new
	// code is loaded past it, so the loader has to carry those bytes in
	// the file from now on.
	if uint32(len(data)) < oldRamSize {
		data = append(data, make([]byte, oldRamSize-uint32(len(data)))...)
	}
	data = data[:oldRamSize]
	data = append(data, make([]byte, oldBssSize)...)
	data = append(data, nc.CodeData...)

	newRamSize := oldRamSize + oldBssSize + binSize
	if maxSize != 0 && newRamSize+nc.BSSSize > maxSize {
		return curated.Errorf(curated.OverlayTooLarge, entry.OverlayID, int(newRamSize+nc.BSSSize), int(maxSize))
	}

	entry.RamSize = newRamSize
	entry.BssSize = nc.BSSSize
	entry.SetSizeFlag(uint32(len(data)), 0)

	*dataPtr = data
	ov.MarkDirty()
	return nil
}

func applyOverlayReplace(ov *romio.OverlayBin, entry *romio.OvtEntry, nc *finalize.Newcode, newcodeAddr uint32) error {
	dataPtr := ov.Data.Data()

	var newData []byte
	if nc != nil && len(nc.CodeData) > 0 {
		newData = append([]byte(nil), nc.CodeData...)
	}

	entry.RamAddress = newcodeAddr
	entry.RamSize = uint32(len(newData))
	entry.BssSize = 0
	if nc != nil {
		entry.BssSize = nc.BSSSize
	}
	entry.SinitStart = 0
	entry.SinitEnd = 0
	entry.SetSizeFlag(uint32(len(newData)), 0)

	*dataPtr = newData
	ov.RamAddr = entry.RamAddress
	ov.MarkDirty()
	return nil
}
