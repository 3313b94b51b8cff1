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

// Package elfview is a read-only view over a 32-bit little-endian ELF image
// held in memory: header, section header table, and iterators over
// sections/symbols/relocations. A File here never owns a file handle - it
// is just a view over a byte slice, so it works identically whether that
// slice came from disk (a user object) or from inside an ar archive member
// (a library object).
package elfview

import (
	"github.com/jetsetilly/ncpatcher/internal/byteio"
	"github.com/jetsetilly/ncpatcher/internal/curated"
)

// ELF section types and flags used by this module (subset of the standard
// ELF32 constants relevant to the patch engine).
const (
	SHT_NULL     = 0
	SHT_SYMTAB   = 2
	SHT_STRTAB   = 3
	SHT_REL      = 9
	SHT_DYNSYM   = 11

	SHF_EXECINSTR = 0x4

	STT_SECTION = 3
	STT_FUNC    = 2

	STB_LOCAL  = 0
	STB_GLOBAL = 1
	STB_WEAK   = 2
)

// SectionHeader mirrors Elf32_Shdr.
type SectionHeader struct {
	NameOff   uint32
	Type      uint32
	Flags     uint32
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	AddrAlign uint32
	EntSize   uint32
}

// Symbol mirrors Elf32_Sym plus its resolved name.
type Symbol struct {
	Name    string
	Value   uint32
	Size    uint32
	Info    uint8
	Other   uint8
	SHIndex uint16
}

// Bind returns the symbol's binding (STB_*).
func (s Symbol) Bind() uint8 { return s.Info >> 4 }

// Type returns the symbol's type (STT_*).
func (s Symbol) Type() uint8 { return s.Info & 0xf }

// Rel mirrors Elf32_Rel.
type Rel struct {
	Offset uint32
	Info   uint32
}

// Symbol returns the relocation's symbol table index.
func (r Rel) Symbol() uint32 { return r.Info >> 8 }

// Type returns the relocation's ARM relocation type (R_ARM_*).
func (r Rel) Type() uint32 { return r.Info & 0xff }

const (
	R_ARM_ABS32    = 2
	R_ARM_TARGET1  = 38
)

// File is a parsed view over a 32-bit ELF image.
type File struct {
	data     []byte
	sections []SectionHeader
	names    []string // per-section name, parallel to sections
	shstrtab []byte
}

const ehdrSize = 52

// Open parses the ELF header and section header table of data. data is
// retained, not copied: the returned File is only valid for as long as the
// caller keeps data alive (this is what lets archive members be zero-copy).
func Open(data []byte, path string) (*File, error) {
	if len(data) < ehdrSize {
		return nil, curated.Errorf(curated.CorruptROMFile, path, "file too small to be an ELF object")
	}
	if data[0] != 0x7f || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return nil, curated.Errorf(curated.CorruptROMFile, path, "missing ELF magic")
	}
	if data[4] != 1 {
		return nil, curated.Errorf(curated.CorruptROMFile, path, "not a 32-bit ELF object")
	}
	if data[5] != 1 {
		return nil, curated.Errorf(curated.CorruptROMFile, path, "not a little-endian ELF object")
	}

	shoff := byteio.ReadU32LE(data, 32)
	shentsize := int(byteio.ReadU16LE(data, 46))
	shnum := int(byteio.ReadU16LE(data, 48))
	shstrndx := int(byteio.ReadU16LE(data, 50))

	if shentsize < 40 || !byteio.InBounds(data, int(shoff), shentsize*shnum) {
		return nil, curated.Errorf(curated.CorruptROMFile, path, "section header table out of bounds")
	}

	f := &File{data: data}
	for i := 0; i < shnum; i++ {
		off := int(shoff) + i*shentsize
		sh := SectionHeader{
			NameOff:   byteio.ReadU32LE(data, off),
			Type:      byteio.ReadU32LE(data, off+4),
			Flags:     byteio.ReadU32LE(data, off+8),
			Addr:      byteio.ReadU32LE(data, off+12),
			Offset:    byteio.ReadU32LE(data, off+16),
			Size:      byteio.ReadU32LE(data, off+20),
			Link:      byteio.ReadU32LE(data, off+24),
			Info:      byteio.ReadU32LE(data, off+28),
			AddrAlign: byteio.ReadU32LE(data, off+32),
			EntSize:   byteio.ReadU32LE(data, off+36),
		}
		f.sections = append(f.sections, sh)
	}

	if shstrndx < len(f.sections) {
		sh := f.sections[shstrndx]
		if byteio.InBounds(data, int(sh.Offset), int(sh.Size)) {
			f.shstrtab = data[sh.Offset : sh.Offset+sh.Size]
		}
	}

	f.names = make([]string, len(f.sections))
	for i, sh := range f.sections {
		f.names[i] = cstr(f.shstrtab, int(sh.NameOff))
	}

	return f, nil
}

func cstr(buf []byte, off int) string {
	if off < 0 || off >= len(buf) {
		return ""
	}
	end := off
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	return string(buf[off:end])
}

// NumSections returns the number of section headers.
func (f *File) NumSections() int { return len(f.sections) }

// SectionHeader returns the section header at idx.
func (f *File) SectionHeader(idx int) SectionHeader { return f.sections[idx] }

// SectionName returns the name of the section at idx.
func (f *File) SectionName(idx int) string { return f.names[idx] }

// SectionIndex returns the index of the section named name, and ok=true if found.
func (f *File) SectionIndex(name string) (int, bool) {
	for i, n := range f.names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// SectionData returns the raw bytes of the section at idx. For SHT_NOBITS
// (.bss-like) sections this returns an empty slice since there is nothing
// on disk to read.
func (f *File) SectionData(idx int) []byte {
	sh := f.sections[idx]
	const SHT_NOBITS = 8
	if sh.Type == SHT_NOBITS {
		return nil
	}
	if !byteio.InBounds(f.data, int(sh.Offset), int(sh.Size)) {
		return nil
	}
	return f.data[sh.Offset : sh.Offset+sh.Size]
}

// ForEachSection calls cb once per section, including the null section at
// index 0.
func (f *File) ForEachSection(cb func(idx int, sh SectionHeader, name string)) {
	for i, sh := range f.sections {
		cb(i, sh, f.names[i])
	}
}

const symEntSize = 16

// symbols decodes the SHT_SYMTAB/SHT_DYNSYM table at idx, resolving each
// entry's name against the string table named by the section's Link field.
func (f *File) symbols(idx int) ([]Symbol, error) {
	sh := f.sections[idx]
	data := f.SectionData(idx)
	if len(data)%symEntSize != 0 {
		return nil, curated.Errorf(curated.CorruptROMFile, f.names[idx], "symbol table size is not a multiple of the entry size")
	}
	if int(sh.Link) >= len(f.sections) {
		return nil, curated.Errorf(curated.CorruptROMFile, f.names[idx], "symbol table has an out-of-range string table link")
	}
	strtab := f.SectionData(int(sh.Link))

	n := len(data) / symEntSize
	out := make([]Symbol, n)
	for i := 0; i < n; i++ {
		off := i * symEntSize
		nameOff := byteio.ReadU32LE(data, off)
		out[i] = Symbol{
			Name:    cstr(strtab, int(nameOff)),
			Value:   byteio.ReadU32LE(data, off+4),
			Size:    byteio.ReadU32LE(data, off+8),
			Info:    data[off+12],
			Other:   data[off+13],
			SHIndex: byteio.ReadU16LE(data, off+14),
		}
	}
	return out, nil
}

// ForEachSymbol calls cb once for every symbol held in every SHT_SYMTAB or
// SHT_DYNSYM section in the file.
func (f *File) ForEachSymbol(cb func(sym Symbol) error) error {
	for i, sh := range f.sections {
		if sh.Type != SHT_SYMTAB && sh.Type != SHT_DYNSYM {
			continue
		}
		syms, err := f.symbols(i)
		if err != nil {
			return err
		}
		for _, s := range syms {
			if err := cb(s); err != nil {
				return err
			}
		}
	}
	return nil
}

const relEntSize = 8

// relocations decodes the SHT_REL table at idx.
func (f *File) relocations(idx int) ([]Rel, error) {
	data := f.SectionData(idx)
	if len(data)%relEntSize != 0 {
		return nil, curated.Errorf(curated.CorruptROMFile, f.names[idx], "relocation table size is not a multiple of the entry size")
	}
	n := len(data) / relEntSize
	out := make([]Rel, n)
	for i := 0; i < n; i++ {
		off := i * relEntSize
		out[i] = Rel{
			Offset: byteio.ReadU32LE(data, off),
			Info:   byteio.ReadU32LE(data, off+4),
		}
	}
	return out, nil
}

// ForEachRelocation calls cb once per SHT_REL section, passing the index of
// the section the relocations apply to (sh.Info) and the decoded entries.
func (f *File) ForEachRelocation(cb func(targetSection int, rels []Rel) error) error {
	for i, sh := range f.sections {
		if sh.Type != SHT_REL {
			continue
		}
		rels, err := f.relocations(i)
		if err != nil {
			return err
		}
		if err := cb(int(sh.Info), rels); err != nil {
			return err
		}
	}
	return nil
}

// SymbolByIndex returns the symbol at globalIdx, counting entries across
// SHT_SYMTAB/SHT_DYNSYM sections in section-table order, the order
// ForEachSymbol visits them in. Relocations reference symbols by this combined
// index, matching how a real ELF linker treats a single logical symbol
// table even though each object only ever carries one SHT_SYMTAB.
func (f *File) SymbolByIndex(globalIdx uint32) (Symbol, bool) {
	var i uint32
	var found Symbol
	var ok bool
	f.ForEachSymbol(func(sym Symbol) error {
		if i == globalIdx {
			found = sym
			ok = true
		}
		i++
		return nil
	})
	return found, ok
}
