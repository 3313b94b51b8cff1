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

package depresolve_test

import (
	"encoding/binary"
	"testing"

	"github.com/jetsetilly/ncpatcher/internal/depresolve"
	"github.com/jetsetilly/ncpatcher/internal/elfview"
	"github.com/jetsetilly/ncpatcher/internal/test"
	"github.com/jetsetilly/ncpatcher/internal/unitreg"
)

// buildUnit assembles a minimal relocatable ELF object with three
// sections: .text.entry (defines the global symbol "entry" and has a
// relocation referencing "used"), .text.used (defines "used"), and
// .text.dead (defines "dead", referenced by nobody).
func buildUnit(t *testing.T) *unitreg.Unit {
	t.Helper()

	var names []byte
	addName := func(s string) uint32 {
		off := uint32(len(names))
		names = append(names, s...)
		names = append(names, 0)
		return off
	}
	names = append(names, 0)

	shstrtabNames := map[string]uint32{}
	for _, n := range []string{"", ".text.entry", ".text.used", ".text.dead", ".rel.text.entry", ".symtab", ".strtab", ".shstrtab"} {
		shstrtabNames[n] = addName(n)
	}

	var strtab []byte
	strtabOff := map[string]uint32{}
	strtab = append(strtab, 0)
	addStr := func(s string) uint32 {
		off := uint32(len(strtab))
		strtab = append(strtab, s...)
		strtab = append(strtab, 0)
		return off
	}
	strtabOff["entry"] = addStr("entry")
	strtabOff["used"] = addStr("used")
	strtabOff["dead"] = addStr("dead")

	const (
		secEntry = 1
		secUsed  = 2
		secDead  = 3
		secRel   = 4
		secSym   = 5
		secStr   = 6
		secShstr = 7
		numSec   = 8
	)

	textEntry := []byte{0, 0, 0, 0}
	textUsed := []byte{0, 0, 0, 0}
	textDead := []byte{0, 0, 0, 0}

	// symbol table: null, entry(sec1,global,func), used(sec2,global,func), dead(sec3,global,func)
	symEntSize := 16
	sym := make([]byte, symEntSize*4)
	putSym := func(i int, nameOff uint32, shndx uint16, info byte) {
		off := i * symEntSize
		binary.LittleEndian.PutUint32(sym[off:], nameOff)
		sym[off+12] = info
		binary.LittleEndian.PutUint16(sym[off+14:], shndx)
	}
	putSym(1, strtabOff["entry"], secEntry, (1<<4)|2)
	putSym(2, strtabOff["used"], secUsed, (1<<4)|2)
	putSym(3, strtabOff["dead"], secDead, (1<<4)|2)

	// relocation section for .text.entry: one entry referencing symbol 2 ("used")
	rel := make([]byte, 8)
	binary.LittleEndian.PutUint32(rel[0:], 0)
	binary.LittleEndian.PutUint32(rel[4:], (2<<8)|2) // symbol=2, type=R_ARM_ABS32

	type sechdr struct {
		nameOff            uint32
		typ, flags, addr   uint32
		offset, size       uint32
		link, info         uint32
		align, entsize     uint32
	}

	var blob []byte
	align := func() {
		for len(blob)%4 != 0 {
			blob = append(blob, 0)
		}
	}

	headers := make([]sechdr, numSec)
	place := func(idx int, data []byte) uint32 {
		align()
		off := uint32(len(blob))
		blob = append(blob, data...)
		headers[idx].offset = off
		headers[idx].size = uint32(len(data))
		return off
	}

	const ehdrSize = 52
	blob = make([]byte, ehdrSize)

	place(secEntry, textEntry)
	place(secUsed, textUsed)
	place(secDead, textDead)
	place(secRel, rel)
	place(secSym, sym)
	place(secStr, strtab)
	place(secShstr, names)

	headers[secEntry] = sechdr{nameOff: shstrtabNames[".text.entry"], typ: 1, offset: headers[secEntry].offset, size: headers[secEntry].size}
	headers[secUsed] = sechdr{nameOff: shstrtabNames[".text.used"], typ: 1, offset: headers[secUsed].offset, size: headers[secUsed].size}
	headers[secDead] = sechdr{nameOff: shstrtabNames[".text.dead"], typ: 1, offset: headers[secDead].offset, size: headers[secDead].size}
	headers[secRel] = sechdr{nameOff: shstrtabNames[".rel.text.entry"], typ: 9, offset: headers[secRel].offset, size: headers[secRel].size, info: secEntry, link: secSym}
	headers[secSym] = sechdr{nameOff: shstrtabNames[".symtab"], typ: 2, offset: headers[secSym].offset, size: headers[secSym].size, link: secStr}
	headers[secStr] = sechdr{nameOff: shstrtabNames[".strtab"], typ: 3, offset: headers[secStr].offset, size: headers[secStr].size}
	headers[secShstr] = sechdr{nameOff: shstrtabNames[".shstrtab"], typ: 3, offset: headers[secShstr].offset, size: headers[secShstr].size}

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

	// ELF header
	blob[0], blob[1], blob[2], blob[3] = 0x7f, 'E', 'L', 'F'
	blob[4] = 1 // 32-bit
	blob[5] = 1 // little-endian
	binary.LittleEndian.PutUint32(blob[32:], shoff)
	binary.LittleEndian.PutUint16(blob[46:], uint16(shentsize))
	binary.LittleEndian.PutUint16(blob[48:], uint16(numSec))
	binary.LittleEndian.PutUint16(blob[50:], secShstr)

	f, err := elfview.Open(blob, "unit.o")
	test.Equate(t, err, nil)

	return &unitreg.Unit{ID: 0, Path: "unit.o", ELF: f}
}

func TestMarkingKeepsReachableDropsDead(t *testing.T) {
	reg := unitreg.New()
	u := reg.AddParsed(buildUnit(t))

	g, err := depresolve.Build(reg, nil)
	test.Equate(t, err, nil)

	g.MarkEntry(u, 1) // .text.entry is a root (idx 1)
	g.Mark(nil)

	test.Equate(t, g.Marked(u, 1), true) // entry itself
	test.Equate(t, g.Marked(u, 2), true) // used, reachable via relocation
	test.Equate(t, g.Marked(u, 3), false) // dead, unreachable
}
