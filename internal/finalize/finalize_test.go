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

package finalize_test

import (
	"encoding/binary"
	"testing"

	"github.com/jetsetilly/ncpatcher/internal/elfview"
	"github.com/jetsetilly/ncpatcher/internal/finalize"
	"github.com/jetsetilly/ncpatcher/internal/patchdir"
	"github.com/jetsetilly/ncpatcher/internal/test"
)

// buildLinkedELF makes a minimal ELF with one function symbol "foo" at a
// known address in a .text section, and a symbol "ncp_autogendata" marking
// an arena base.
func buildLinkedELF(t *testing.T) *elfview.File {
	t.Helper()

	var names []byte
	addName := func(s string) uint32 {
		off := uint32(len(names))
		names = append(names, s...)
		names = append(names, 0)
		return off
	}
	names = append(names, 0)
	nText := addName(".text")
	nSym := addName(".symtab")
	nStr := addName(".strtab")
	nShstr := addName(".shstrtab")

	var strtab []byte
	strtab = append(strtab, 0)
	addStr := func(s string) uint32 {
		off := uint32(len(strtab))
		strtab = append(strtab, s...)
		strtab = append(strtab, 0)
		return off
	}
	fooOff := addStr("foo")
	arenaOff := addStr("ncp_autogendata")

	const (
		secText  = 1
		secSym   = 2
		secStr   = 3
		secShstr = 4
		numSec   = 5
	)

	text := make([]byte, 16)

	symEntSize := 16
	sym := make([]byte, symEntSize*3)
	putSym := func(i int, nameOff uint32, value uint32, shndx uint16, info byte) {
		off := i * symEntSize
		binary.LittleEndian.PutUint32(sym[off:], nameOff)
		binary.LittleEndian.PutUint32(sym[off+4:], value)
		sym[off+12] = info
		binary.LittleEndian.PutUint16(sym[off+14:], shndx)
	}
	putSym(1, fooOff, 0x02004100, secText, (1<<4)|2)   // STT_FUNC, global
	putSym(2, arenaOff, 0x02006000, secText, (1<<4)|1) // STT_OBJECT, global

	type sechdr struct {
		nameOff, typ, flags, addr, offset, size, link, info, align, entsize uint32
	}
	headers := make([]sechdr, numSec)
	var blob []byte
	align := func() {
		for len(blob)%4 != 0 {
			blob = append(blob, 0)
		}
	}
	place := func(idx int, data []byte) {
		align()
		off := uint32(len(blob))
		blob = append(blob, data...)
		headers[idx].offset = off
		headers[idx].size = uint32(len(data))
	}

	const ehdrSize = 52
	blob = make([]byte, ehdrSize)
	place(secText, text)
	place(secSym, sym)
	place(secStr, strtab)
	place(secShstr, names)

	headers[secText] = sechdr{nameOff: nText, typ: 1, offset: headers[secText].offset, size: headers[secText].size, addr: 0x02004000}
	headers[secSym] = sechdr{nameOff: nSym, typ: 2, offset: headers[secSym].offset, size: headers[secSym].size, link: secStr}
	headers[secStr] = sechdr{nameOff: nStr, typ: 3, offset: headers[secStr].offset, size: headers[secStr].size}
	headers[secShstr] = sechdr{nameOff: nShstr, typ: 3, offset: headers[secShstr].offset, size: headers[secShstr].size}

	align()
	shoff := uint32(len(blob))
	shentsize := 40
	for i := 0; i < numSec; i++ {
		h := headers[i]
		rec := make([]byte, shentsize)
		binary.LittleEndian.PutUint32(rec[0:], h.nameOff)
		binary.LittleEndian.PutUint32(rec[4:], h.typ)
		binary.LittleEndian.PutUint32(rec[8:], h.flags)
		binary.LittleEndian.PutUint32(rec[12:], h.addr)
		binary.LittleEndian.PutUint32(rec[16:], h.offset)
		binary.LittleEndian.PutUint32(rec[20:], h.size)
		binary.LittleEndian.PutUint32(rec[24:], h.link)
		binary.LittleEndian.PutUint32(rec[28:], h.info)
		binary.LittleEndian.PutUint32(rec[32:], 1)
		binary.LittleEndian.PutUint32(rec[36:], 0)
		blob = append(blob, rec...)
	}

	blob[0], blob[1], blob[2], blob[3] = 0x7f, 'E', 'L', 'F'
	blob[4], blob[5] = 1, 1
	binary.LittleEndian.PutUint32(blob[32:], shoff)
	binary.LittleEndian.PutUint16(blob[46:], uint16(shentsize))
	binary.LittleEndian.PutUint16(blob[48:], uint16(numSec))
	binary.LittleEndian.PutUint16(blob[50:], secShstr)

	f, err := elfview.Open(blob, "linked.elf")
	test.Equate(t, err, nil)
	return f
}

func TestFinalizeResolvesSourceAddressAndArena(t *testing.T) {
	f := buildLinkedELF(t)

	patches := []patchdir.PatchRecord{
		{Symbol: "foo", Type: patchdir.Call, DstAddress: 0x02003000, DstAddressOv: -1},
	}

	res, err := finalize.Finalize(f, patches, nil, nil)
	test.Equate(t, err, nil)
	test.Equate(t, patches[0].SrcAddress, uint32(0x02004100))

	arena, ok := res.Arenas[-1]
	test.ExpectSuccess(t, ok)
	test.Equate(t, arena.Base, uint32(0x02006000))
}
