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

package appctx_test

import (
	"testing"

	"github.com/jetsetilly/ncpatcher/internal/appctx"
	"github.com/jetsetilly/ncpatcher/internal/test"
)

func TestErrorContextStack(t *testing.T) {
	c := appctx.New()

	release1 := c.PushContext("loading configuration")
	test.Equate(t, c.ErrorContext(), []string{"loading configuration"})

	release2 := c.PushContext("processing target arm9")
	test.Equate(t, c.ErrorContext(), []string{"processing target arm9", "loading configuration"})

	release2()
	test.Equate(t, c.ErrorContext(), []string{"loading configuration"})

	release1()
	test.Equate(t, len(c.ErrorContext()), 0)
}

func TestReleaseIsIdempotentOnMismatch(t *testing.T) {
	c := appctx.New()
	release := c.PushContext("outer")
	_ = c.PushContext("inner")

	// releasing the outer context first (out of order) must not corrupt the
	// stack for a subsequent release of the inner context.
	release()
	test.Equate(t, len(c.ErrorContext()), 2)
}

func TestHasDefine(t *testing.T) {
	c := appctx.New()
	c.Defines = []string{"NDEBUG", "REGION_EU"}
	test.ExpectSuccess(t, c.HasDefine("REGION_EU"))
	test.ExpectFailure(t, c.HasDefine("REGION_US"))
}
