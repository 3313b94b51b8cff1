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

// Package byteio is the one place in this module that pokes at raw byte
// slices with explicit offsets. Every ROM binary, ELF image and archive
// member is mutated through these functions rather than through a
// reinterpreted pointer: bounds and endianness are always explicit and
// always checked.
package byteio

import "encoding/binary"

// ReadU16LE reads a little-endian uint16 at off. It panics if the read would
// run past the end of buf - every call site in this module is expected to
// have already validated the region it is about to read; an out-of-range
// decode is a programming error rather than a recoverable one.
func ReadU16LE(buf []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(buf[off : off+2])
}

// ReadU32LE reads a little-endian uint32 at off.
func ReadU32LE(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off : off+4])
}

// WriteU16LE writes v as a little-endian uint16 at off.
func WriteU16LE(buf []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(buf[off:off+2], v)
}

// WriteU32LE writes v as a little-endian uint32 at off.
func WriteU32LE(buf []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], v)
}

// ReadU64LE reads a little-endian uint64 at off. Used for the rebuild
// cache's time_t fields, which this module carries as 64-bit Unix
// timestamps regardless of the host's native time_t width.
func ReadU64LE(buf []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(buf[off : off+8])
}

// WriteU64LE writes v as a little-endian uint64 at off.
func WriteU64LE(buf []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(buf[off:off+8], v)
}

// InBounds reports whether the half-open range [off, off+n) lies within buf.
func InBounds(buf []byte, off, n int) bool {
	return off >= 0 && n >= 0 && off+n >= off && off+n <= len(buf)
}
