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

package test

import "strings"

// Writer is an io.Writer that accumulates everything written to it, for
// comparison against an expected transcript in tests (CLI help text, log
// output, and so on).
type Writer struct {
	s strings.Builder
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.s.Write(p)
}

// String returns everything written so far.
func (w *Writer) String() string {
	return w.s.String()
}

// Compare reports whether everything written so far equals s exactly.
func (w *Writer) Compare(s string) bool {
	return w.s.String() == s
}

// Reset clears the writer's accumulated content.
func (w *Writer) Reset() {
	w.s.Reset()
}

// Clear is an alias of Reset.
func (w *Writer) Clear() {
	w.Reset()
}
