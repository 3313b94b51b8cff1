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

package romio

import (
	"os"

	"github.com/jetsetilly/ncpatcher/internal/byteio"
	"github.com/jetsetilly/ncpatcher/internal/curated"
)

// Header is the fixed fields of the ROM's 512-byte header this engine
// actually consults: the RAM placement of each ARM binary and the location
// of each CPU's overlay table, ported from NDSHeader.cpp's field layout.
type Header struct {
	Arm9RomOffset  uint32
	Arm9EntryAddr  uint32
	Arm9RamAddr    uint32
	Arm9Size       uint32

	Arm7RomOffset  uint32
	Arm7EntryAddr  uint32
	Arm7RamAddr    uint32
	Arm7Size       uint32

	Arm9OvtOffset uint32
	Arm9OvtSize   uint32
	Arm7OvtOffset uint32
	Arm7OvtSize   uint32

	Arm9AutoloadHookOff uint32
	Arm7AutoloadHookOff uint32
}

// LoadHeader reads and decodes the ROM header at path.
func LoadHeader(path string) (*Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, curated.Errorf(curated.FileNotFound, path)
	}
	if len(data) < minRomHeaderSize {
		return nil, curated.Errorf(curated.CorruptROMFile, path, "ROM header is smaller than the minimum 512 bytes")
	}

	return &Header{
		Arm9RomOffset: byteio.ReadU32LE(data, 0x20),
		Arm9EntryAddr: byteio.ReadU32LE(data, 0x24),
		Arm9RamAddr:   byteio.ReadU32LE(data, 0x28),
		Arm9Size:      byteio.ReadU32LE(data, 0x2C),

		Arm7RomOffset: byteio.ReadU32LE(data, 0x30),
		Arm7EntryAddr: byteio.ReadU32LE(data, 0x34),
		Arm7RamAddr:   byteio.ReadU32LE(data, 0x38),
		Arm7Size:      byteio.ReadU32LE(data, 0x3C),

		Arm9OvtOffset: byteio.ReadU32LE(data, 0x50),
		Arm9OvtSize:   byteio.ReadU32LE(data, 0x54),
		Arm7OvtOffset: byteio.ReadU32LE(data, 0x58),
		Arm7OvtSize:   byteio.ReadU32LE(data, 0x5C),

		Arm9AutoloadHookOff: byteio.ReadU32LE(data, 0x70),
		Arm7AutoloadHookOff: byteio.ReadU32LE(data, 0x74),
	}, nil
}
