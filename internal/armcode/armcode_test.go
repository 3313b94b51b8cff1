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

package armcode_test

import (
	"testing"

	"github.com/jetsetilly/ncpatcher/internal/armcode"
	"github.com/jetsetilly/ncpatcher/internal/byteio"
	"github.com/jetsetilly/ncpatcher/internal/test"
)

func TestArchitectureSupportsBLX(t *testing.T) {
	test.ExpectFailure(t, armcode.ARM7TDMI.SupportsBLX())
	test.ExpectSuccess(t, armcode.ARMv7M.SupportsBLX())
}

func TestEncodeBForwardBranch(t *testing.T) {
	instr, err := armcode.EncodeB(0x02000000, 0x02000100)
	test.Equate(t, err, nil)
	// B with a forward offset: condition+opcode bits set, imm24 positive
	test.Equate(t, instr&0xff000000, uint32(0xea000000))
	test.Equate(t, instr&0x00ffffff, uint32((0x100-8)>>2))
}

func TestEncodeBRejectsMisalignedOperands(t *testing.T) {
	_, err := armcode.EncodeB(0x02000001, 0x02000100)
	test.ExpectFailure(t, err == nil)
}

func TestEncodeBRejectsOutOfRange(t *testing.T) {
	_, err := armcode.EncodeB(0x02000000, 0x0400000c)
	test.ExpectFailure(t, err == nil)
}

func TestEncodeBLX(t *testing.T) {
	instr, err := armcode.EncodeBLX(0x02000000, 0x02000102)
	test.Equate(t, err, nil)
	test.Equate(t, instr&0xfe000000, uint32(0xfa000000))
}

func TestEncodeThumbBL(t *testing.T) {
	hi, lo, err := armcode.EncodeThumbBL(0x02000000, 0x02000100)
	test.Equate(t, err, nil)
	test.Equate(t, hi&0xf800, uint16(0xf000))
	test.Equate(t, lo&0xf800, uint16(0xf800))
}

func TestEncodeThumbBLXRejectsUnalignedDest(t *testing.T) {
	_, _, err := armcode.EncodeThumbBLX(0x02000000, 0x02000101)
	test.ExpectFailure(t, err == nil)
}

func TestARMToThumbBridge(t *testing.T) {
	dest := uint32(0x02300001)
	buf := armcode.EncodeARMToThumbBridge(dest)
	test.Equate(t, len(buf), armcode.BridgeSize)
	test.Equate(t, byteio.ReadU32LE(buf, 0), uint32(0xe51ff004))
	test.Equate(t, byteio.ReadU32LE(buf, 4), dest)
}

func TestHookBridgePatching(t *testing.T) {
	buf := armcode.EncodeHookBridge()
	test.Equate(t, len(buf), armcode.HookBridgeSize)

	bridgeAddr := uint32(0x02100000)
	err := armcode.PatchHookBridge(buf, bridgeAddr, 0x02200000, 0x02100020)
	test.Equate(t, err, nil)
	test.Equate(t, byteio.ReadU32LE(buf, 4)&0xff000000, uint32(0xeb000000))
	test.Equate(t, byteio.ReadU32LE(buf, 8), uint32(0xe8bd500f))
	test.Equate(t, byteio.ReadU32LE(buf, 16)&0xff000000, uint32(0xea000000))
}

func TestFixupPCRelativeLDRImm12(t *testing.T) {
	target := uint32(0x02001000)
	instr := uint32(0xe59f0000) // ldr r0, [pc, #0]
	fixed, err := armcode.FixupPCRelative(armcode.FixupLDRSTRImm12, instr, 0x02000000, 0x02000800, target)
	test.Equate(t, err, nil)
	test.Equate(t, fixed&0xfff, uint32(target-(0x02000800+8)))
}

func TestFixupPCRelativeOutOfRange(t *testing.T) {
	instr := uint32(0xe59f0000)
	_, err := armcode.FixupPCRelative(armcode.FixupLDRSTRImm12, instr, 0x02000000, 0x02000000, 0x02100000)
	test.ExpectFailure(t, err == nil)
}
