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

package byteio_test

import (
	"testing"

	"github.com/jetsetilly/ncpatcher/internal/byteio"
	"github.com/jetsetilly/ncpatcher/internal/test"
)

func TestReadWriteU16LE(t *testing.T) {
	buf := make([]byte, 4)
	byteio.WriteU16LE(buf, 1, 0xbeef)
	test.Equate(t, byteio.ReadU16LE(buf, 1), uint16(0xbeef))
}

func TestReadWriteU32LE(t *testing.T) {
	buf := make([]byte, 8)
	byteio.WriteU32LE(buf, 2, 0xdeadbeef)
	test.Equate(t, byteio.ReadU32LE(buf, 2), uint32(0xdeadbeef))
}

func TestInBounds(t *testing.T) {
	buf := make([]byte, 10)
	test.ExpectSuccess(t, byteio.InBounds(buf, 0, 10))
	test.ExpectSuccess(t, byteio.InBounds(buf, 5, 5))
	test.ExpectFailure(t, byteio.InBounds(buf, 5, 6))
	test.ExpectFailure(t, byteio.InBounds(buf, -1, 1))
	test.ExpectFailure(t, byteio.InBounds(buf, 0, -1))
}
