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
	"github.com/jetsetilly/ncpatcher/internal/curated"
)

// relocateHookSiteInstruction re-encodes the instruction the hook bridge
// displaced so it still reaches whatever absolute address it originally
// targeted, now that it executes from newPC (inside the bridge) instead of
// oldPC (the hook site). Instructions with no PC-relative component pass
// through unchanged.
func relocateHookSiteInstruction(instr, oldPC, newPC uint32) (uint32, error) {
	switch {
	case isBranchClass(instr):
		return relocateBranch(instr, oldPC, newPC)

	case isLDRSTRLiteral(instr):
		target, err := ldrstrLiteralTarget(instr, oldPC)
		if err != nil {
			return 0, err
		}
		return armcode.FixupPCRelative(armcode.FixupLDRSTRImm12, instr, oldPC, newPC, target)

	case isHalfwordLiteral(instr):
		target, err := halfwordLiteralTarget(instr, oldPC)
		if err != nil {
			return 0, err
		}
		return armcode.FixupPCRelative(armcode.FixupLDRHImm8, instr, oldPC, newPC, target)

	case isADR(instr):
		target := adrTarget(instr, oldPC)
		return armcode.FixupPCRelative(armcode.FixupADR, instr, oldPC, newPC, target)

	case isLDMSTMWithPC(instr), isCoprocWithPC(instr):
		return 0, curated.Errorf(curated.UnrelocatableInstruction, instr, oldPC, "instruction form cannot be relocated")
	}

	return instr, nil
}

func isBranchClass(instr uint32) bool {
	return instr&0x0e000000 == 0x0a000000
}

func relocateBranch(instr, oldPC, newPC uint32) (uint32, error) {
	cond := instr >> 28
	if cond == 0xf {
		h := (instr >> 24) & 1
		imm24 := instr & 0x00ffffff
		offset := signExtend(imm24, 24) << 2
		offset |= int32(h << 1)
		target := uint32(int64(oldPC) + 8 + int64(offset))
		return armcode.EncodeBLX(newPC, target)
	}

	l := (instr >> 24) & 1
	imm24 := instr & 0x00ffffff
	offset := signExtend(imm24, 24) << 2
	target := uint32(int64(oldPC) + 8 + int64(offset))

	var encoded uint32
	var err error
	if l == 0 {
		encoded, err = armcode.EncodeB(newPC, target)
	} else {
		encoded, err = armcode.EncodeBL(newPC, target)
	}
	if err != nil {
		return 0, err
	}
	return (encoded & 0x0fffffff) | (cond << 28), nil
}

// isLDRSTRLiteral recognises single-data-transfer LDR/STR with an immediate
// offset (I=0) whose base register is PC, in its pre-indexed non-writeback
// (i.e. genuinely PC-relative literal) form.
func isLDRSTRLiteral(instr uint32) bool {
	if instr&0x0e000000 != 0x04000000 { // bits 27-25 == 010
		return false
	}
	p := (instr >> 24) & 1
	w := (instr >> 21) & 1
	rn := (instr >> 16) & 0xf
	return p == 1 && w == 0 && rn == 0xf
}

func ldrstrLiteralTarget(instr, oldPC uint32) (uint32, error) {
	if (instr>>24)&1 == 0 {
		return 0, curated.Errorf(curated.UnrelocatableInstruction, instr, oldPC, "post-indexed PC-relative transfer cannot be relocated")
	}
	u := (instr >> 23) & 1
	imm12 := int32(instr & 0xfff)
	if u == 0 {
		imm12 = -imm12
	}
	return uint32(int64(oldPC) + 8 + int64(imm12)), nil
}

// isHalfwordLiteral recognises LDRH/STRH/LDRSB/LDRSH literal forms (the
// "extra load/store" encoding) with immediate offset and PC base.
func isHalfwordLiteral(instr uint32) bool {
	if instr&0x0e000000 != 0 { // bits 27-25 == 000
		return false
	}
	if instr&0x00000090 != 0x00000090 { // bits 7 and 4 both set
		return false
	}
	immForm := (instr >> 22) & 1
	rn := (instr >> 16) & 0xf
	return immForm == 1 && rn == 0xf
}

func halfwordLiteralTarget(instr, oldPC uint32) (uint32, error) {
	p := (instr >> 24) & 1
	w := (instr >> 21) & 1
	if p == 0 || w == 1 {
		return 0, curated.Errorf(curated.UnrelocatableInstruction, instr, oldPC, "post-indexed PC-relative transfer cannot be relocated")
	}
	u := (instr >> 23) & 1
	immH := (instr >> 8) & 0xf
	immL := instr & 0xf
	off := int32((immH << 4) | immL)
	if u == 0 {
		off = -off
	}
	return uint32(int64(oldPC) + 8 + int64(off)), nil
}

// isADR recognises the ADD/SUB Rd, PC, #imm immediate-form encoding used to
// synthesise ADR.
func isADR(instr uint32) bool {
	if instr&0x0c000000 != 0 { // bits 27-26 must be 00
		return false
	}
	i := (instr >> 25) & 1
	opcode := (instr >> 21) & 0xf
	s := (instr >> 20) & 1
	rn := (instr >> 16) & 0xf
	if i != 1 || s != 0 || rn != 0xf {
		return false
	}
	return opcode == 0x4 || opcode == 0x2 // ADD or SUB
}

func adrTarget(instr, oldPC uint32) uint32 {
	opcode := (instr >> 21) & 0xf
	imm8 := instr & 0xff
	rot := (instr >> 8) & 0xf
	value := ror32(imm8, uint(rot*2))
	if opcode == 0x2 {
		return uint32(int64(oldPC) + 8 - int64(value))
	}
	return uint32(int64(oldPC) + 8 + int64(value))
}

func isLDMSTMWithPC(instr uint32) bool {
	if instr&0x0e000000 != 0x08000000 {
		return false
	}
	return (instr>>16)&0xf == 0xf
}

func isCoprocWithPC(instr uint32) bool {
	if instr&0x0e000000 != 0x0c000000 {
		return false
	}
	return (instr>>16)&0xf == 0xf
}

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

func ror32(v uint32, shift uint) uint32 {
	shift &= 31
	if shift == 0 {
		return v
	}
	return (v >> shift) | (v << (32 - shift))
}
