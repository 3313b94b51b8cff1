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

package progress_test

import (
	"context"
	"testing"
	"time"

	"github.com/jetsetilly/ncpatcher/internal/compiletask"
	"github.com/jetsetilly/ncpatcher/internal/progress"
	"github.com/jetsetilly/ncpatcher/internal/test"
)

func TestTickerNeverDrawsToNonTerminal(t *testing.T) {
	w, err := test.NewCappedWriter(256)
	test.Equate(t, err, nil)

	tk := progress.NewTicker(w, time.Millisecond)

	pool := compiletask.New(1)
	var stop func()
	infos := pool.RunObserved(context.Background(), []compiletask.Task{{
		Source: "a.c",
		Run: func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	}}, func(infos []*compiletask.BuildInfo) {
		stop = tk.Start(infos)
	})
	stop()

	test.Equate(t, len(infos), 1)
	test.Equate(t, w.String(), "")
}

func TestTickerStopIsIdempotent(t *testing.T) {
	w, err := test.NewCappedWriter(16)
	test.Equate(t, err, nil)

	tk := progress.NewTicker(w, time.Millisecond)
	stop := tk.Start(nil)
	stop()
	stop()
}
