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

package arfile_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/jetsetilly/ncpatcher/internal/arfile"
	"github.com/jetsetilly/ncpatcher/internal/test"
)

func padField(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func appendMember(buf []byte, name string, data []byte) []byte {
	hdr := padField(name, 16) +
		padField("0", 12) +
		padField("0", 6) +
		padField("0", 6) +
		padField("0", 8) +
		padField(fmt.Sprintf("%d", len(data)), 10) +
		"`\n"
	buf = append(buf, []byte(hdr)...)
	buf = append(buf, data...)
	if len(data)%2 != 0 {
		buf = append(buf, '\n')
	}
	return buf
}

func TestOpenRejectsBadMagic(t *testing.T) {
	_, err := arfile.Open([]byte("not an archive"), "lib.a")
	test.ExpectFailure(t, err == nil)
}

func TestOpenShortNames(t *testing.T) {
	buf := []byte("!<arch>\n")
	buf = appendMember(buf, "foo.o/", []byte{1, 2, 3})
	buf = appendMember(buf, "bar.o/", []byte{4, 5})

	a, err := arfile.Open(buf, "lib.a")
	test.Equate(t, err, nil)
	test.Equate(t, len(a.Members), 2)

	m, ok := a.Find("foo.o")
	test.ExpectSuccess(t, ok)
	test.Equate(t, m.Data, []byte{1, 2, 3})

	m, ok = a.Find("bar.o")
	test.ExpectSuccess(t, ok)
	test.Equate(t, m.Data, []byte{4, 5})

	_, ok = a.Find("missing.o")
	test.ExpectFailure(t, ok)
}

func TestOpenLongNameTable(t *testing.T) {
	longNames := "this_is_a_very_long_object_file_name.o/\n"

	buf := []byte("!<arch>\n")
	buf = appendMember(buf, "//", []byte(longNames))
	buf = appendMember(buf, "/0", []byte{9, 9})

	a, err := arfile.Open(buf, "lib.a")
	test.Equate(t, err, nil)
	test.Equate(t, len(a.Members), 1)

	m, ok := a.Find("this_is_a_very_long_object_file_name.o")
	test.ExpectSuccess(t, ok)
	test.Equate(t, m.Data, []byte{9, 9})
}
