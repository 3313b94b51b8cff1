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

// Package crunched gives ROM binaries a uniform "may or may not currently be
// compressed" view. The BLZ codec itself is out of scope for this module -
// it is an external collaborator; Decoder is the interface the rest of the
// engine calls through, and BLZ is never named below this package boundary.
package crunched

// Data is the interface romio uses for an ARM binary's or overlay's bytes.
// A value can be inspected in its current (possibly compressed) form or
// forced to its uncrunched form; romio's invariant is that every binary it
// hands to later pipeline stages has already had Data() called on it, so
// the compression marker in the binary's own header is never trusted again
// after load.
type Data interface {
	// IsCrunched returns true if the data is currently compressed.
	IsCrunched() bool

	// Size returns the uncompressed size and the current size. The two are
	// equal once the data is uncrunched.
	Size() (uncrunched, current int)

	// Data returns a pointer to the uncrunched bytes, decompressing in
	// place (via the configured Decoder) the first time it is called.
	Data() *[]byte

	// Inspect returns the bytes in their current state, without forcing a
	// decompression.
	Inspect() *[]byte

	// Decompress is the error-returning twin of Data().
	Decompress() (*[]byte, error)
}

// Decoder decompresses a BLZ-compressed byte range. The patch engine never
// implements this itself; it is supplied by the caller (normally a thin
// wrapper around the project's existing BLZ tool).
type Decoder func(compressed []byte) ([]byte, error)

type blz struct {
	decode   Decoder
	crunched bool
	data     []byte
	origSize int
}

// New wraps data as a crunched.Data value. If compressed is true, Data()
// will call decode the first time it is invoked.
func New(data []byte, uncrunchedSize int, compressed bool, decode Decoder) Data {
	return &blz{decode: decode, crunched: compressed, data: data, origSize: uncrunchedSize}
}

func (b *blz) IsCrunched() bool {
	return b.crunched
}

func (b *blz) Size() (int, int) {
	if b.crunched {
		return b.origSize, len(b.data)
	}
	return b.origSize, b.origSize
}

func (b *blz) Data() *[]byte {
	if b.crunched {
		out, err := b.decode(b.data)
		if err != nil {
			panic(err)
		}
		b.data = out
		b.crunched = false
	}
	return &b.data
}

func (b *blz) Inspect() *[]byte {
	return &b.data
}

// Decompress is the error-returning twin of Data(), preferred by callers
// (romio) that are already inside an explicit error-handling path and would
// rather not rely on Data()'s panic-on-failure behaviour.
func (b *blz) Decompress() (*[]byte, error) {
	if !b.crunched {
		return &b.data, nil
	}
	out, err := b.decode(b.data)
	if err != nil {
		return nil, err
	}
	b.data = out
	b.crunched = false
	return &b.data, nil
}
