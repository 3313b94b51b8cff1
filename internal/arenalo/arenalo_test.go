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

package arenalo

import (
	"testing"

	"github.com/jetsetilly/ncpatcher/internal/byteio"
	"github.com/jetsetilly/ncpatcher/internal/test"
)

type fakeSanity struct {
	lo, hi uint32
}

func (f fakeSanity) SanityCheckAddress(addr uint32) bool {
	return addr >= f.lo && addr < f.hi
}

func TestScanFindsArmSignature(t *testing.T) {
	base := uint32(0x02000000)

	data := make([]byte, 0x60)
	copy(data[0x10:], armSig.switchCase[0])
	ldrOff := 0x20
	copy(data[ldrOff+1:], armSig.ldr) // +1 because scan subtracts 1 from the match offset
	copy(data[ldrOff+4:], armSig.ldmia[0])

	litOff := ldrOff + int(0) + 8 // data[ldrOff] == 0 so literal sits 8 bytes after ldrOff
	byteio.WriteU32LE(data, litOff, base+0x1000)

	sane := fakeSanity{lo: base, hi: base + 0x400000}
	res, ok := scan(sane, data, base, armSig)
	test.Equate(t, ok, true)
	test.Equate(t, res.ArenaLoAddr, base+uint32(litOff))
	test.Equate(t, res.NewcodeAddr, base+0x1000)
}

func TestScanRejectsWhenReferencedNearby(t *testing.T) {
	base := uint32(0x02000000)
	data := make([]byte, 0x120)
	copy(data[0x10:], armSig.switchCase[0])
	copy(data[0x10+0x20:], armSig.reference[0])

	sane := fakeSanity{lo: base, hi: base + 0x400000}
	_, ok := scan(sane, data, base, armSig)
	test.Equate(t, ok, false)
}

func TestFindRejectsUnsupportedArchitecture(t *testing.T) {
	_, err := Find(nil, 0)
	test.ExpectFailure(t, err == nil)
}
