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

package crunched_test

import (
	"bytes"
	"testing"

	"github.com/jetsetilly/ncpatcher/internal/crunched"
	"github.com/jetsetilly/ncpatcher/internal/test"
)

func doublingDecoder(b []byte) ([]byte, error) {
	out := make([]byte, len(b)*2)
	copy(out, b)
	copy(out[len(b):], b)
	return out, nil
}

func TestUncrunchedPassthrough(t *testing.T) {
	d := crunched.New([]byte{1, 2, 3, 4}, 4, false, doublingDecoder)
	test.ExpectFailure(t, d.IsCrunched())
	u, c := d.Size()
	test.Equate(t, u, 4)
	test.Equate(t, c, 4)
	test.Equate(t, *d.Data(), []byte{1, 2, 3, 4})
}

func TestCrunchedDecompressesOnce(t *testing.T) {
	d := crunched.New([]byte{1, 2}, 4, true, doublingDecoder)
	test.ExpectSuccess(t, d.IsCrunched())

	got := *d.Data()
	test.ExpectSuccess(t, bytes.Equal(got, []byte{1, 2, 1, 2}))
	test.ExpectFailure(t, d.IsCrunched())

	// calling Data() again is a no-op now that it is uncrunched
	got2 := *d.Data()
	test.ExpectSuccess(t, bytes.Equal(got2, []byte{1, 2, 1, 2}))
}

func TestDecompressError(t *testing.T) {
	boom := func([]byte) ([]byte, error) { return nil, bytes.ErrTooLarge }
	d := crunched.New([]byte{1, 2}, 4, true, boom)
	_, err := d.Decompress()
	test.ExpectFailure(t, err == nil)
}
