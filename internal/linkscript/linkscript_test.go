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

package linkscript_test

import (
	"strings"
	"testing"

	"github.com/jetsetilly/ncpatcher/internal/linkscript"
	"github.com/jetsetilly/ncpatcher/internal/overwrite"
	"github.com/jetsetilly/ncpatcher/internal/test"
)

func TestSynthesizeEmitsMemoryInputAndSections(t *testing.T) {
	plan := linkscript.Plan{
		Objects:  []string{"main.o"},
		Archives: []string{"libc.a"},
		Regions: []overwrite.Region{
			{Start: 0x02005000, End: 0x020050c0, Dest: -1, MemName: "ovw_arm_0"},
		},
		Destinations: []linkscript.Destination{
			{Tag: -1, Patches: []linkscript.PatchLabel{{Label: "ncp_call_02004000", Size: 4, Alignment: 4}}, AutogenLabel: "ncp_autogendata", AutogenSize: 20},
		},
		ExternSyms: []string{"foo", "bar"},
	}

	script := linkscript.Synthesize(plan)

	test.ExpectSuccess(t, strings.Contains(script, "MEMORY"))
	test.ExpectSuccess(t, strings.Contains(script, "ovw_arm_0"))
	test.ExpectSuccess(t, strings.Contains(script, `"main.o"`))
	test.ExpectSuccess(t, strings.Contains(script, `"libc.a"`))
	test.ExpectSuccess(t, strings.Contains(script, ".arm :"))
	test.ExpectSuccess(t, strings.Contains(script, "ncp_autogendata"))
	test.ExpectSuccess(t, strings.Contains(script, "EXTERN(foo bar)"))
	test.ExpectSuccess(t, strings.Contains(script, "/DISCARD/"))
}
