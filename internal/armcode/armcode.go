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

// Package armcode synthesises the small fixed pieces of ARM and THUMB
// machine code the patch engine needs: branch and branch-and-link
// instructions, interworking bridges between the two instruction sets, and
// the PC-relative fixups a relocated instruction needs when it moves to a
// new address. Architecture, not emulation, is the split that matters here:
// an ARM7TDMI core (the handheld's ARM7 side) cannot execute BLX, so a
// THUMB-destination branch from ARM7 code must always go through an
// interworking bridge, while an ARMv7-M core (the ARM9 side, in this
// engine's terms) can emit BLX directly.
package armcode

import (
	"fmt"

	"github.com/jetsetilly/ncpatcher/internal/byteio"
	"github.com/jetsetilly/ncpatcher/internal/curated"
)

// Architecture distinguishes the two cores the patch engine targets.
type Architecture int

const (
	ARM7TDMI Architecture = iota
	ARMv7M
)

// SupportsBLX reports whether the core can execute BLX (register or
// immediate form) directly, without an interworking bridge.
func (a Architecture) SupportsBLX() bool {
	return a == ARMv7M
}

// SupportsArenaLoAutoDiscovery reports whether this architecture's binary
// can be scanned for its OS_GetInitArenaLo function when no arenaLo address
// is configured. The ARM7 side has never had working auto-discovery; its
// binary is small enough, and OS_GetInitArenaLo rare enough in it, that the
// signature scan isn't worth the false-positive risk.
func (a Architecture) SupportsArenaLoAutoDiscovery() bool {
	return a == ARMv7M
}

// String names the architecture for error messages and logging.
func (a Architecture) String() string {
	switch a {
	case ARM7TDMI:
		return "ARM7TDMI"
	case ARMv7M:
		return "ARMv7-M"
	}
	return "unknown"
}

const maxBranchRange = 1 << 25 // ±32MB, a 24-bit word offset for B/BL

// EncodeB encodes an ARM-mode unconditional B instruction at pc branching to
// dest. Both must be 4-byte aligned.
func EncodeB(pc, dest uint32) (uint32, error) {
	return encodeArmBranch(pc, dest, 0xea000000)
}

// EncodeBL encodes an ARM-mode BL instruction at pc branching to dest.
func EncodeBL(pc, dest uint32) (uint32, error) {
	return encodeArmBranch(pc, dest, 0xeb000000)
}

func encodeArmBranch(pc, dest uint32, opcode uint32) (uint32, error) {
	if pc%4 != 0 || dest%4 != 0 {
		return 0, curated.Errorf(curated.UnrelocatableInstruction, opcode, pc, "branch source/destination must be word-aligned")
	}
	offset := int32(dest) - int32(pc) - 8
	if offset >= maxBranchRange || offset < -maxBranchRange {
		return 0, curated.Errorf(curated.BranchOutOfRange, pc, dest)
	}
	imm24 := uint32(offset>>2) & 0x00ffffff
	return opcode | imm24, nil
}

// EncodeBLX encodes an ARM-mode BLX(immediate) instruction at pc, the only
// ARM branch form that can switch to THUMB state on arrival. dest must be
// 2-byte aligned; bit 0 of dest is not part of the destination address, it
// only ever encodes THUMB as the target state, which BLX(immediate) always
// does.
func EncodeBLX(pc, dest uint32) (uint32, error) {
	if pc%4 != 0 || dest%2 != 0 {
		return 0, curated.Errorf(curated.UnrelocatableInstruction, dest, pc, "BLX source/destination must be half-word aligned")
	}
	offset := int32(dest) - int32(pc) - 8
	if offset >= maxBranchRange || offset < -maxBranchRange {
		return 0, curated.Errorf(curated.BranchOutOfRange, pc, dest)
	}
	h := uint32(0)
	if offset&2 != 0 {
		h = 1
	}
	imm24 := uint32(offset>>2) & 0x00ffffff
	return 0xfa000000 | (h << 24) | imm24, nil
}

// EncodeThumbBL encodes a THUMB-mode 32-bit BL (two 16-bit halfwords) at pc
// branching to dest, staying in THUMB state.
func EncodeThumbBL(pc, dest uint32) (hi, lo uint16, err error) {
	return encodeThumbBranchLink(pc, dest, true)
}

// EncodeThumbBLX encodes a THUMB-mode 32-bit BLX(immediate) at pc, switching
// to ARM state on arrival. dest must be word-aligned.
func EncodeThumbBLX(pc, dest uint32) (hi, lo uint16, err error) {
	if dest%4 != 0 {
		return 0, 0, curated.Errorf(curated.UnrelocatableInstruction, dest, pc, "BLX destination must be word-aligned")
	}
	return encodeThumbBranchLink(pc, dest, false)
}

func encodeThumbBranchLink(pc, dest uint32, staysThumb bool) (uint16, uint16, error) {
	if pc%2 != 0 {
		return 0, 0, curated.Errorf(curated.UnrelocatableInstruction, dest, pc, "THUMB branch source must be half-word aligned")
	}
	offset := int32(dest) - int32(pc) - 4
	const maxRange = 1 << 22 // ±4MB
	if offset >= maxRange || offset < -maxRange {
		return 0, 0, curated.Errorf(curated.BranchOutOfRange, pc, dest)
	}

	s := uint16(0)
	if offset < 0 {
		s = 1
	}
	imm22 := uint32(offset>>1) & 0x3fffff
	hi := (0x1e << 11) | (s << 10) | uint16((imm22>>11)&0x3ff)
	var loOpcode uint16 = 0xf800 // BL
	if !staysThumb {
		loOpcode = 0xe800 // BLX; the low halfword carries offset bits [11:1] unchanged, as for BL
	}
	lo := loOpcode | uint16(imm22&0x7ff)
	return hi, lo, nil
}

// BridgeSize is the fixed size, in bytes, of an ARM-to-THUMB interworking
// bridge built by EncodeARMToThumbBridge: one literal-load-into-PC
// instruction plus the literal pool word it loads from.
const BridgeSize = 8

// EncodeARMToThumbBridge builds an 8-byte ARM-mode code stub that loads
// dest (with bit 0 set to request THUMB state) directly into PC, for cores
// that cannot execute BLX directly.
//
//	ldr pc, [pc, #-4]
//	.word dest|1
func EncodeARMToThumbBridge(dest uint32) []byte {
	buf := make([]byte, BridgeSize)
	byteio.WriteU32LE(buf, 0, 0xe51ff004) // ldr pc, [pc, #-4]
	byteio.WriteU32LE(buf, 4, dest|1)
	return buf
}

// HookBridgeSize is the fixed size, in bytes, of the register-preserving
// hook bridge built by EncodeHookBridge.
const HookBridgeSize = 20

// EncodeHookBridge builds a 20-byte ARM-mode stub that saves the volatile
// register set, branches to the hook function, restores the volatile set,
// executes the original (fixed-up) instruction from the hook site, and
// returns to the instruction immediately following it.
//
//	stmfd sp!, {r0-r3, r12, lr}
//	bl    <hook, fixed up by caller>
//	ldmfd sp!, {r0-r3, r12, lr}
//	<original instruction, fixed up by caller>
//	b     <resumeAddr, fixed up by caller>
func EncodeHookBridge() []byte {
	buf := make([]byte, HookBridgeSize)
	byteio.WriteU32LE(buf, 0, 0xe92d500f) // stmfd sp!, {r0-r3, r12, lr}
	byteio.WriteU32LE(buf, 4, 0xeb000000) // bl <placeholder>
	byteio.WriteU32LE(buf, 8, 0xe8bd500f) // ldmfd sp!, {r0-r3, r12, lr}
	byteio.WriteU32LE(buf, 16, 0xea000000) // b <placeholder>
	return buf
}

// PatchHookBridge fixes up the bl/b placeholders left by EncodeHookBridge
// once the bridge's own final address (bridgeAddr) is known. The original
// fixed-up instruction at offset 12 is the caller's responsibility (it
// depends on the hook site's own instruction, not just addresses).
func PatchHookBridge(buf []byte, bridgeAddr, hookFunc, resumeAddr uint32) error {
	bl, err := EncodeBL(bridgeAddr+4, hookFunc)
	if err != nil {
		return err
	}
	byteio.WriteU32LE(buf, 4, bl)

	b, err := EncodeB(bridgeAddr+16, resumeAddr)
	if err != nil {
		return err
	}
	byteio.WriteU32LE(buf, 16, b)
	return nil
}

// FixupKind identifies the instruction forms whose PC-relative addressing
// must be re-derived after relocation.
type FixupKind int

const (
	FixupLDRSTRImm12 FixupKind = iota // LDR/STR (literal), imm12 offset
	FixupLDRHImm8                     // LDRH/STRH/LDRSB/LDRSH (literal), imm8 offset
	FixupADR                          // ADR
)

// FixupPCRelative recomputes the immediate field of a PC-relative
// instruction that has moved from oldPC to newPC while its target stays
// fixed at targetAddr, returning the corrected instruction word.
func FixupPCRelative(kind FixupKind, instr uint32, oldPC, newPC, targetAddr uint32) (uint32, error) {
	newOffset := int32(targetAddr) - int32(newPC) - 8

	switch kind {
	case FixupLDRSTRImm12:
		if newOffset < -4095 || newOffset > 4095 {
			return 0, curated.Errorf(curated.UnrelocatableInstruction, instr, newPC, fmt.Sprintf("relocated LDR/STR literal offset %d out of imm12 range", newOffset))
		}
		u := uint32(1 << 23)
		if newOffset < 0 {
			u = 0
			newOffset = -newOffset
		}
		return (instr &^ uint32(0x00800fff)) | u | uint32(newOffset), nil

	case FixupLDRHImm8:
		if newOffset < -255 || newOffset > 255 {
			return 0, curated.Errorf(curated.UnrelocatableInstruction, instr, newPC, fmt.Sprintf("relocated LDRH-class literal offset %d out of imm8 range", newOffset))
		}
		u := uint32(1 << 23)
		if newOffset < 0 {
			u = 0
			newOffset = -newOffset
		}
		immH := (uint32(newOffset) >> 4) << 8
		immL := uint32(newOffset) & 0xf
		return (instr &^ uint32(0x00800f0f)) | u | immH | immL, nil

	case FixupADR:
		// ADD (opcode 0100) for a forward target, SUB (0010) for a backward
		// one; the magnitude must be an 8-bit value rotated right by an even
		// amount. Rd, Rn (PC) and the condition are kept from instr.
		opcode, abs := uint32(0x4), uint32(newOffset)
		if newOffset < 0 {
			opcode, abs = 0x2, uint32(-newOffset)
		}
		for rot := uint32(0); rot < 16; rot++ {
			if imm8 := abs<<(2*rot) | abs>>((32-2*rot)&31); imm8 <= 0xff {
				return (instr &^ uint32(0x01e00fff)) | opcode<<21 | rot<<8 | imm8, nil
			}
		}
		return 0, curated.Errorf(curated.UnrelocatableInstruction, instr, newPC, fmt.Sprintf("relocated ADR offset %d is not an encodable rotated immediate", newOffset))
	}

	return 0, curated.Errorf(curated.UnrelocatableInstruction, instr, newPC, "unknown PC-relative fixup kind")
}
