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

package buildstats

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jetsetilly/ncpatcher/internal/test"
)

func TestNilRecorderIsANoOp(t *testing.T) {
	var rec *Recorder
	rec.RecordCompile("a.o", time.Second)
	rec.RecordNewcodeSize("player.core.main", 128)
}

func TestRecordCompileOverwritesOnRepeat(t *testing.T) {
	rec := NewRecorder()
	rec.RecordCompile("a.o", 10*time.Millisecond)
	rec.RecordCompile("b.o", 5*time.Millisecond)
	rec.RecordCompile("a.o", 20*time.Millisecond)

	objects, ms, _, _ := rec.snapshot()
	test.Equate(t, objects, []string{"a.o", "b.o"})
	test.Equate(t, ms, []float64{20, 5})
}

func TestRecordNewcodeSizeTracksLatestPerDestination(t *testing.T) {
	rec := NewRecorder()
	rec.RecordNewcodeSize("player.core.main", 64)
	rec.RecordNewcodeSize("enemy.core.main", 32)
	rec.RecordNewcodeSize("player.core.main", 96)

	_, _, dests, sizes := rec.snapshot()
	test.Equate(t, dests, []string{"enemy.core.main", "player.core.main"})
	test.Equate(t, sizes, []float64{32, 96})
}

func TestAdjacentPort(t *testing.T) {
	test.Equate(t, adjacentPort("18066"), "18067")
	test.Equate(t, adjacentPort("not-a-port"), "not-a-port")
}

func TestRenderProducesHTMLWithBothCharts(t *testing.T) {
	rec := NewRecorder()
	rec.RecordCompile("player.c", 12*time.Millisecond)
	rec.RecordNewcodeSize("player.core.main", 256)

	var sb strings.Builder
	rec.render(&stringWriter{&sb})

	out := sb.String()
	test.ExpectSuccess(t, strings.Contains(out, "Compile time per object"))
	test.ExpectSuccess(t, strings.Contains(out, "Newcode size per destination"))
}

// stringWriter is the smallest possible http.ResponseWriter: render never
// calls WriteHeader or inspects Header in this dashboard, so both are
// stubs over a plain strings.Builder.
type stringWriter struct{ sb *strings.Builder }

func (w *stringWriter) Header() http.Header         { return http.Header{} }
func (w *stringWriter) Write(p []byte) (int, error) { return w.sb.Write(p) }
func (w *stringWriter) WriteHeader(int)             {}
