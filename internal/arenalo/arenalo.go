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

// Package arenalo recovers the address of OS_GetInitArenaLo's static
// pointer by byte-signature scanning, for the (rare) build where the user
// configuration leaves arenaLo unset. It is a last resort: the ordinary
// path is reading the configured address directly out of the binary.
package arenalo

import (
	"bytes"

	"github.com/jetsetilly/ncpatcher/internal/armcode"
	"github.com/jetsetilly/ncpatcher/internal/byteio"
	"github.com/jetsetilly/ncpatcher/internal/curated"
	"github.com/jetsetilly/ncpatcher/internal/romio"
)

// sanityChecker is the subset of romio.ArmBinary this package depends on,
// so tests can exercise the scanner without a full binary.
type sanityChecker interface {
	SanityCheckAddress(addr uint32) bool
}

// signature is the fixed byte pattern OS_GetInitArenaLo's dispatch switch
// compiles to, one variant per instruction set, plus the patterns used to
// reject a match that's actually OS_GetInitArenaHi.
type signature struct {
	switchCase [][]byte // alternatives aren't needed; kept as one pattern each
	ldr        []byte
	ldmia      [][]byte // ARM only; thumb's epilogue is folded into ldr's pop
	reference  [][]byte
	thumb      bool
}

var armSig = signature{
	switchCase: [][]byte{{0x06, 0x00, 0x50, 0xe3, 0x00, 0xf1, 0x8f, 0x90}}, // cmp r0,#6; addls pc,pc,r0,lsl#2
	ldr:        []byte{0x00, 0x9f, 0xe5},                                  // ldr r0,[pc,#imm]
	ldmia: [][]byte{
		{0x00, 0x40, 0xbd, 0xe8}, // ldmia sp!, {lr}
		{0x08, 0x80, 0xbd, 0xe8}, // ldmia sp!, {r3, pc}
		{0x1e, 0xff, 0x2f, 0xe1}, // bx lr
	},
	reference: [][]byte{
		{0x27, 0x06, 0xa0}, // 0x02700000
		{0x3c, 0x00, 0xa0}, // 0x023c0000
		{0x20, 0x00, 0xa0}, // 0x02000000
	},
}

var thumbSig = signature{
	switchCase: [][]byte{{0x08, 0xb5, 0x06, 0x28}}, // push {r3,lr}; cmp r0,#6
	ldr:        []byte{0x48, 0x08, 0xbd},           // ldr r0,[pc,#imm]; pop {r3,pc}
	reference: [][]byte{
		{0x27, 0x20, 0x00, 0x05}, // 0x02700000
		{0x02, 0x20, 0x00, 0x06}, // 0x02000000
	},
	thumb: true,
}

// Result is the discovered arenaLo pointer location and the heap-top value
// currently stored there, usable directly as a destination's newcode
// address the same way a configured arenaLo would be.
type Result struct {
	ArenaLoAddr uint32
	NewcodeAddr uint32
}

// Find scans bin's static region and every autoload block for
// OS_GetInitArenaLo, the runtime function that returns the current
// autoload-heap-top pointer. arch must support auto-discovery (the ARM9
// side only — see armcode.Architecture.SupportsArenaLoAutoDiscovery).
func Find(bin *romio.ArmBinary, arch armcode.Architecture) (Result, error) {
	if !arch.SupportsArenaLoAutoDiscovery() {
		return Result{}, curated.Errorf(curated.InvalidConfiguration, "arenaLo auto-discovery is not supported on this architecture")
	}

	ramAddr := bin.RamAddr()
	autoloadStart := bin.Params.AutoloadStart
	if autoloadStart < ramAddr || int(autoloadStart-ramAddr) > len(bin.Data) {
		return Result{}, curated.Errorf(curated.CorruptROMFile, bin.Path, "autoload_start is out of range")
	}

	staticRegion := bin.Data[:autoloadStart-ramAddr]
	if res, ok := scan(bin, staticRegion, ramAddr, armSig); ok {
		return res, nil
	}
	if res, ok := scan(bin, staticRegion, ramAddr, thumbSig); ok {
		return res, nil
	}

	for _, entry := range bin.Autoload {
		start := entry.DataOffset
		end := start + entry.Size
		if !byteio.InBounds(bin.Data, int(start), int(end-start)) {
			continue
		}
		block := bin.Data[start:end]
		if res, ok := scan(bin, block, entry.Address, armSig); ok {
			return res, nil
		}
		if res, ok := scan(bin, block, entry.Address, thumbSig); ok {
			return res, nil
		}
	}

	return Result{}, curated.Errorf(curated.InvalidConfiguration, "failed to find arenaLo and no valid arenaLo was configured")
}

func scan(bin sanityChecker, data []byte, baseAddr uint32, sig signature) (Result, bool) {
	for _, switchCase := range sig.switchCase {
		for _, matchOff := range findAll(data, switchCase, 0, len(data)) {
			if referencedNearby(data, matchOff, sig.reference) {
				continue
			}

			window := matchOff + 0x50
			if window > len(data) {
				window = len(data)
			}
			for _, ldrOff := range findAll(data, sig.ldr, matchOff, window) {
				ldrOff--
				if ldrOff < 0 {
					continue
				}
				ldrAddr := baseAddr + uint32(ldrOff)
				if !bin.SanityCheckAddress(ldrAddr) {
					continue
				}

				litOff, ok := literalOffset(data, ldrOff, sig)
				if !ok {
					continue
				}
				if !byteio.InBounds(data, litOff, 4) {
					continue
				}

				ptrValue := byteio.ReadU32LE(data, litOff)
				if bin.SanityCheckAddress(ptrValue) {
					return Result{ArenaLoAddr: baseAddr + uint32(litOff), NewcodeAddr: ptrValue}, true
				}
			}
		}
	}
	return Result{}, false
}

// literalOffset locates the literal pool word the matched `ldr r0, [pc,
// #imm]` at ldrOff actually reads, which differs between the ARM and THUMB
// encodings this package recognises.
func literalOffset(data []byte, ldrOff int, sig signature) (int, bool) {
	if sig.thumb {
		if !byteio.InBounds(data, ldrOff, 1) {
			return 0, false
		}
		imm := int(data[ldrOff])
		off := ((ldrOff + 4) &^ 3) + imm*4
		return off, true
	}

	if !byteio.InBounds(data, ldrOff+4, 4) {
		return 0, false
	}
	epilogue := data[ldrOff+4 : ldrOff+8]
	matched := false
	for _, pattern := range sig.ldmia {
		if bytes.Equal(epilogue, pattern) {
			matched = true
			break
		}
	}
	if !matched {
		return 0, false
	}
	if !byteio.InBounds(data, ldrOff, 1) {
		return 0, false
	}
	return ldrOff + int(data[ldrOff]) + 8, true
}

// referencedNearby reports whether any of patterns appears within the
// 0x100 bytes following matchOff, meaning this switch-case dispatch belongs
// to some other function than OS_GetInitArenaLo (most often its sibling
// OS_GetInitArenaHi).
func referencedNearby(data []byte, matchOff int, patterns [][]byte) bool {
	end := matchOff + 0x100
	if end > len(data) {
		end = len(data)
	}
	window := data[matchOff:end]
	for _, p := range patterns {
		if bytes.Contains(window, p) {
			return true
		}
	}
	return false
}

func findAll(data, pattern []byte, start, end int) []int {
	var matches []int
	if end > len(data) {
		end = len(data)
	}
	for i := start; i+len(pattern) <= end; i++ {
		if bytes.Equal(data[i:i+len(pattern)], pattern) {
			matches = append(matches, i)
		}
	}
	return matches
}
