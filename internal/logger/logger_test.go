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

package logger_test

import (
	"errors"
	"testing"

	"github.com/jetsetilly/ncpatcher/internal/logger"
	"github.com/jetsetilly/ncpatcher/internal/test"
)

func TestCentralLogger(t *testing.T) {
	log := logger.NewLogger(100)
	log.AllowAll()
	tw := &test.Writer{}

	log.Write(tw)
	test.Equate(t, tw.Compare(""), true)

	log.Log("build", "this is a test")
	log.Write(tw)
	test.Equate(t, tw.Compare("build: this is a test\n"), true)

	tw.Clear()

	log.Log("patch", "this is another test")
	log.Write(tw)
	test.Equate(t, tw.Compare("build: this is a test\npatch: this is another test\n"), true)

	tw.Clear()
	log.Tail(tw, 100)
	test.Equate(t, tw.Compare("build: this is a test\npatch: this is another test\n"), true)

	tw.Clear()
	log.Tail(tw, 1)
	test.Equate(t, tw.Compare("patch: this is another test\n"), true)

	tw.Clear()
	log.Tail(tw, 0)
	test.Equate(t, tw.Compare(""), true)
}

func TestTagGating(t *testing.T) {
	log := logger.NewLogger(100)
	log.Allow(logger.TagPatch)
	tw := &test.Writer{}

	log.Log(logger.TagBuild, "should not appear")
	log.Log(logger.TagPatch, "should appear")
	log.Write(tw)
	test.Equate(t, tw.Compare("patch: should appear\n"), true)
}

func TestAllowAll(t *testing.T) {
	log := logger.NewLogger(100)
	log.AllowAll()

	test.ExpectSuccess(t, log.Allowed(logger.TagBuild))
	test.ExpectSuccess(t, log.Allowed(logger.TagSymbols))
}

func TestErrorLogging(t *testing.T) {
	log := logger.NewLogger(100)
	log.AllowAll()
	tw := &test.Writer{}

	err := errors.New("test error")
	log.Log(logger.TagLinking, err)
	log.Write(tw)
	test.Equate(t, tw.Compare("linking: test error\n"), true)
}

func TestTailThroughRingWriter(t *testing.T) {
	log := logger.NewLogger(100)
	log.AllowAll()

	log.Log(logger.TagBuild, "first entry")
	log.Log(logger.TagBuild, "second entry")

	rw, err := test.NewRingWriter(len("build: second entry\n"))
	test.Equate(t, err, nil)
	log.Tail(rw, 100)
	test.Equate(t, rw.String(), "build: second entry\n")
}

func TestNilLoggerIsSafe(t *testing.T) {
	var log *logger.Logger
	log.Log(logger.TagBuild, "ignored")
	log.AllowAll()
	tw := &test.Writer{}
	log.Write(tw)
	test.Equate(t, tw.Compare(""), true)
}
