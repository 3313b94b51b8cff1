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
	"github.com/jetsetilly/ncpatcher/internal/byteio"
	"github.com/jetsetilly/ncpatcher/internal/curated"
	"github.com/jetsetilly/ncpatcher/internal/finalize"
	"github.com/jetsetilly/ncpatcher/internal/romio"
)

// ApplyArmNewcode splices one destination build's worth of new ARM9/ARM7
// code into the main binary's autoload system. The new code is never
// appended to the end of the file: it is always written into the fixed hole
// at Params.AutoloadStart, the bytes that used to occupy
// [AutoloadStart, AutoloadListStart) are shifted forward to make room, and a
// new autoload entry describing the new code's runtime load address
// (newcodeAddr) is prepended to the autoload list, which is then rewritten
// immediately after the relocated hole content.
//
// The arenaLo heap-top word is not touched here; AdvanceAutoloadHeap writes
// it.
func ApplyArmNewcode(bin *romio.ArmBinary, nc *finalize.Newcode, newcodeAddr uint32) error {
	if nc == nil || len(nc.CodeData) == 0 {
		return nil
	}

	ramAddr := bin.RamAddr()
	autoloadStart := bin.Params.AutoloadStart
	autoloadListStart := bin.Params.AutoloadListStart
	autoloadListEnd := bin.Params.AutoloadListEnd

	if autoloadListStart < autoloadStart {
		return curated.Errorf(curated.CorruptROMFile, bin.Path, "autoload_start is not before autoload_list_start")
	}

	holeOff := int(autoloadStart - ramAddr)
	listStartOff := int(autoloadListStart - ramAddr)
	listEndOff := int(autoloadListEnd - ramAddr)
	if !byteio.InBounds(bin.Data, holeOff, listEndOff-holeOff) {
		return curated.Errorf(curated.CorruptROMFile, bin.Path, "autoload region is out of range")
	}

	binSize := uint32(len(nc.CodeData))

	newEntry := romio.AutoloadEntry{
		Address: newcodeAddr,
		Size:    binSize,
		BssSize: nc.BSSSize,
	}
	entries := append([]romio.AutoloadEntry{newEntry}, bin.Autoload...)

	listBytes := make([]byte, len(entries)*12)
	dataOff := uint32(0)
	for i := range entries {
		off := i * 12
		byteio.WriteU32LE(listBytes, off, entries[i].Address)
		byteio.WriteU32LE(listBytes, off+4, entries[i].Size)
		byteio.WriteU32LE(listBytes, off+8, entries[i].BssSize)
		entries[i].DataOffset = dataOff
		dataOff += entries[i].Size
	}

	prefix := bin.Data[:holeOff]
	holeContent := bin.Data[holeOff:listStartOff]
	tail := bin.Data[listEndOff:]

	assembled := make([]byte, 0, len(prefix)+int(binSize)+len(holeContent)+len(listBytes)+len(tail))
	assembled = append(assembled, prefix...)
	assembled = append(assembled, nc.CodeData...)
	assembled = append(assembled, holeContent...)
	assembled = append(assembled, listBytes...)
	assembled = append(assembled, tail...)
	bin.Data = assembled

	bin.Autoload = entries
	bin.Params.AutoloadListStart = autoloadListStart + binSize
	bin.Params.AutoloadListEnd = bin.Params.AutoloadListStart + uint32(len(listBytes))
	bin.FlushModuleParams()

	return nil
}

// AdvanceAutoloadHeap writes the new autoload heap-top pointer at arenaLo,
// after newcodeAddr's code and BSS have been reserved on the heap.
func AdvanceAutoloadHeap(bin CodeBin, arenaLo, newcodeAddr uint32, nc *finalize.Newcode) error {
	if nc == nil {
		return nil
	}
	codeEnd := newcodeAddr + uint32(len(nc.CodeData))
	bssStart := alignUp(codeEnd, nc.BSSAlignment)
	heapTop := bssStart + nc.BSSSize
	return bin.WriteU32(arenaLo, heapTop)
}

func alignUp(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
