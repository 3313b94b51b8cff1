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
	"github.com/jetsetilly/ncpatcher/internal/armcode"
	"github.com/jetsetilly/ncpatcher/internal/byteio"
	"github.com/jetsetilly/ncpatcher/internal/curated"
	"github.com/jetsetilly/ncpatcher/internal/elfview"
	"github.com/jetsetilly/ncpatcher/internal/finalize"
	"github.com/jetsetilly/ncpatcher/internal/patchdir"
)

// arenaAlloc is a bump allocator over one destination's autogen-data arena,
// reserved by the linker inside that destination's own newcode section.
type arenaAlloc struct {
	arena   *finalize.Arena
	newcode *finalize.Newcode
}

func newArenaAlloc(dest int, res *finalize.Result) *arenaAlloc {
	a := res.Arenas[dest]
	if a == nil {
		return nil
	}
	return &arenaAlloc{arena: a, newcode: res.Newcodes[dest]}
}

// alloc reserves size bytes from the arena, returning their ROM address and
// the backing slice (already part of the destination's newcode payload, so
// writes here are picked up automatically when that payload is written to
// the CodeBin).
func (a *arenaAlloc) alloc(size uint32) (uint32, []byte, error) {
	if a == nil || a.newcode == nil {
		return 0, nil, curated.Errorf(curated.OverlayTooLarge, -1, int(size), 0)
	}
	addr := a.arena.Current
	off := int(addr - a.newcode.CodeAddr)
	if off < 0 || off+int(size) > len(a.newcode.CodeData) {
		used := off + int(size)
		return 0, nil, curated.Errorf(curated.OverlayTooLarge, a.arena.Dest, used, len(a.newcode.CodeData))
	}
	a.arena.Current += size
	return addr, a.newcode.CodeData[off : off+int(size)], nil
}

// ApplyPatches writes every resolved patch record into its destination
// CodeBin, allocating interworking/hook bridges out of that destination's
// autogen-data arena as needed. f is the linked ELF patches were resolved
// against, consulted for `over` section payloads. arch governs whether a
// direct ARM BLX is available or an interworking bridge must be used.
func ApplyPatches(f *elfview.File, bins Bins, patches []patchdir.PatchRecord, res *finalize.Result, arch armcode.Architecture) error {
	arenas := map[int]*arenaAlloc{}
	arenaFor := func(dest int) *arenaAlloc {
		a, ok := arenas[dest]
		if !ok {
			a = newArenaAlloc(dest, res)
			arenas[dest] = a
		}
		return a
	}

	for _, p := range patches {
		bin, ok := bins[p.DstAddressOv]
		if !ok {
			return curated.Errorf(curated.InvalidDestinationMode, p.Symbol, p.DstAddressOv)
		}

		switch p.Type {
		case patchdir.Over:
			if err := applyOver(f, bin, p); err != nil {
				return err
			}
		case patchdir.Jump:
			if err := applyJump(bin, arenaFor(p.DstAddressOv), p); err != nil {
				return err
			}
		case patchdir.Call:
			if err := applyCall(bin, p, arch); err != nil {
				return err
			}
		case patchdir.Hook:
			if err := applyHook(bin, arenaFor(p.DstAddressOv), p); err != nil {
				return err
			}
		case patchdir.RtRepl:
			// consumed by the patched binary itself at load time; the
			// directive only needed <name>_start/<name>_end labels, both
			// already resolved by the linker.
		}
	}
	return nil
}

func applyOver(f *elfview.File, bin CodeBin, p patchdir.PatchRecord) error {
	data := f.SectionData(p.SectionIdx)
	return bin.WriteBytes(p.DstAddress, data)
}

func applyJump(bin CodeBin, arena *arenaAlloc, p patchdir.PatchRecord) error {
	switch {
	case !p.DstThumb && !p.SrcThumb:
		instr, err := armcode.EncodeB(p.DstAddress, p.SrcAddress)
		if err != nil {
			return err
		}
		return bin.WriteU32(p.DstAddress, instr)

	case !p.DstThumb && p.SrcThumb:
		bridgeAddr, buf, err := arena.alloc(armcode.BridgeSize)
		if err != nil {
			return err
		}
		copy(buf, armcode.EncodeARMToThumbBridge(p.SrcAddress))
		instr, err := armcode.EncodeB(p.DstAddress, bridgeAddr)
		if err != nil {
			return err
		}
		return bin.WriteU32(p.DstAddress, instr)

	case p.DstThumb && !p.SrcThumb:
		return writeThumbTrampoline(bin, p.DstAddress, p.SrcAddress, false)

	default:
		return writeThumbTrampoline(bin, p.DstAddress, p.SrcAddress, true)
	}
}

// writeThumbTrampoline writes the four-halfword THUMB trampoline for a
// THUMB-site jump (PUSH {LR}; BL/BLX src; POP {PC}), staying in THUMB
// state if staysThumb, else switching to ARM.
func writeThumbTrampoline(bin CodeBin, dst, src uint32, staysThumb bool) error {
	if err := bin.WriteU16(dst, 0xb500); err != nil { // push {lr}
		return err
	}
	var hi, lo uint16
	var err error
	if staysThumb {
		hi, lo, err = armcode.EncodeThumbBL(dst+2, src)
	} else {
		hi, lo, err = armcode.EncodeThumbBLX(dst+2, src)
	}
	if err != nil {
		return err
	}
	if err := bin.WriteU16(dst+2, hi); err != nil {
		return err
	}
	if err := bin.WriteU16(dst+4, lo); err != nil {
		return err
	}
	return bin.WriteU16(dst+6, 0xbd00) // pop {pc}
}

func applyCall(bin CodeBin, p patchdir.PatchRecord, arch armcode.Architecture) error {
	switch {
	case !p.DstThumb && !p.SrcThumb:
		instr, err := armcode.EncodeBL(p.DstAddress, p.SrcAddress)
		if err != nil {
			return err
		}
		return bin.WriteU32(p.DstAddress, instr)

	case !p.DstThumb && p.SrcThumb:
		if !arch.SupportsBLX() {
			return curated.Errorf(curated.MissingInterworking, arch.String())
		}
		instr, err := armcode.EncodeBLX(p.DstAddress, p.SrcAddress)
		if err != nil {
			return err
		}
		return bin.WriteU32(p.DstAddress, instr)

	case p.DstThumb && !p.SrcThumb:
		if !arch.SupportsBLX() {
			return curated.Errorf(curated.MissingInterworking, arch.String())
		}
		hi, lo, err := armcode.EncodeThumbBLX(p.DstAddress, p.SrcAddress)
		if err != nil {
			return err
		}
		if err := bin.WriteU16(p.DstAddress, hi); err != nil {
			return err
		}
		return bin.WriteU16(p.DstAddress+2, lo)

	default:
		hi, lo, err := armcode.EncodeThumbBL(p.DstAddress, p.SrcAddress)
		if err != nil {
			return err
		}
		if err := bin.WriteU16(p.DstAddress, hi); err != nil {
			return err
		}
		return bin.WriteU16(p.DstAddress+2, lo)
	}
}

func applyHook(bin CodeBin, arena *arenaAlloc, p patchdir.PatchRecord) error {
	if p.DstThumb {
		return curated.Errorf(curated.UnsupportedHook, p.DstAddress)
	}

	bridgeAddr, buf, err := arena.alloc(armcode.HookBridgeSize)
	if err != nil {
		return err
	}
	copy(buf, armcode.EncodeHookBridge())

	orig, err := bin.ReadU32(p.DstAddress)
	if err != nil {
		return err
	}
	fixed, err := relocateHookSiteInstruction(orig, p.DstAddress, bridgeAddr+12)
	if err != nil {
		return err
	}
	byteio.WriteU32LE(buf, 12, fixed)

	resumeAddr := p.DstAddress + 4
	if err := armcode.PatchHookBridge(buf, bridgeAddr, p.SrcAddress, resumeAddr); err != nil {
		return err
	}

	instr, err := armcode.EncodeB(p.DstAddress, bridgeAddr)
	if err != nil {
		return err
	}
	return bin.WriteU32(p.DstAddress, instr)
}
