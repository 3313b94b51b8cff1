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

// Package romwriter applies the finished patch plan to the in-memory ROM
// binaries: trampolines and overwrites through a small capability view
// (CodeBin) that dispatches by destination tag, then per-destination
// newcode application (the autoload-list rewrite for the main ARM binary,
// append/replace for overlays).
package romwriter

import (
	"github.com/jetsetilly/ncpatcher/internal/byteio"
	"github.com/jetsetilly/ncpatcher/internal/curated"
	"github.com/jetsetilly/ncpatcher/internal/romio"
)

// CodeBin is an abstract read/write view over one destination's bytes,
// addressed by ROM address rather than file offset. Every patch write in
// this package goes through a CodeBin rather than touching romio's types
// directly, so Jump/Call/Hook/Over application doesn't need to know
// whether it is writing into the main ARM binary or an overlay.
type CodeBin interface {
	ReadU32(addr uint32) (uint32, error)
	WriteU32(addr uint32, v uint32) error
	WriteU16(addr uint32, v uint16) error
	WriteBytes(addr uint32, data []byte) error
}

// armCodeBin adapts a romio.ArmBinary.
type armCodeBin struct {
	bin *romio.ArmBinary
}

// NewArmCodeBin wraps bin as a CodeBin.
func NewArmCodeBin(bin *romio.ArmBinary) CodeBin { return &armCodeBin{bin: bin} }

func (c *armCodeBin) ReadU32(addr uint32) (uint32, error) {
	off, ok := c.bin.Offset(addr)
	if !ok || !byteio.InBounds(c.bin.Data, off, 4) {
		return 0, curated.Errorf(curated.CorruptROMFile, c.bin.Path, "address out of range")
	}
	return byteio.ReadU32LE(c.bin.Data, off), nil
}

func (c *armCodeBin) WriteU32(addr uint32, v uint32) error {
	off, ok := c.bin.Offset(addr)
	if !ok || !byteio.InBounds(c.bin.Data, off, 4) {
		return curated.Errorf(curated.CorruptROMFile, c.bin.Path, "address out of range")
	}
	byteio.WriteU32LE(c.bin.Data, off, v)
	return nil
}

func (c *armCodeBin) WriteU16(addr uint32, v uint16) error {
	off, ok := c.bin.Offset(addr)
	if !ok || !byteio.InBounds(c.bin.Data, off, 2) {
		return curated.Errorf(curated.CorruptROMFile, c.bin.Path, "address out of range")
	}
	byteio.WriteU16LE(c.bin.Data, off, v)
	return nil
}

func (c *armCodeBin) WriteBytes(addr uint32, data []byte) error {
	off, ok := c.bin.Offset(addr)
	if !ok || !byteio.InBounds(c.bin.Data, off, len(data)) {
		return curated.Errorf(curated.CorruptROMFile, c.bin.Path, "address out of range")
	}
	copy(c.bin.Data[off:off+len(data)], data)
	return nil
}

// overlayCodeBin adapts a romio.OverlayBin.
type overlayCodeBin struct {
	ov *romio.OverlayBin
}

// NewOverlayCodeBin wraps ov as a CodeBin.
func NewOverlayCodeBin(ov *romio.OverlayBin) CodeBin { return &overlayCodeBin{ov: ov} }

func (c *overlayCodeBin) offset(addr uint32) int {
	return int(addr - c.ov.RamAddr)
}

func (c *overlayCodeBin) ReadU32(addr uint32) (uint32, error) {
	data := *c.ov.Data.Data()
	off := c.offset(addr)
	if !byteio.InBounds(data, off, 4) {
		return 0, curated.Errorf(curated.CorruptROMFile, c.ov.Path, "address out of range")
	}
	return byteio.ReadU32LE(data, off), nil
}

func (c *overlayCodeBin) WriteU32(addr uint32, v uint32) error {
	data := *c.ov.Data.Data()
	off := c.offset(addr)
	if !byteio.InBounds(data, off, 4) {
		return curated.Errorf(curated.CorruptROMFile, c.ov.Path, "address out of range")
	}
	c.ov.MarkDirty()
	byteio.WriteU32LE(data, off, v)
	return nil
}

func (c *overlayCodeBin) WriteU16(addr uint32, v uint16) error {
	data := *c.ov.Data.Data()
	off := c.offset(addr)
	if !byteio.InBounds(data, off, 2) {
		return curated.Errorf(curated.CorruptROMFile, c.ov.Path, "address out of range")
	}
	c.ov.MarkDirty()
	byteio.WriteU16LE(data, off, v)
	return nil
}

func (c *overlayCodeBin) WriteBytes(addr uint32, data []byte) error {
	buf := *c.ov.Data.Data()
	off := c.offset(addr)
	if !byteio.InBounds(buf, off, len(data)) {
		return curated.Errorf(curated.CorruptROMFile, c.ov.Path, "address out of range")
	}
	c.ov.MarkDirty()
	copy(buf[off:off+len(data)], data)
	return nil
}

// Bins is the per-build set of CodeBin views, keyed by destination tag
// (-1 for the main ARM binary, else overlay id).
type Bins map[int]CodeBin
