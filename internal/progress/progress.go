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

// Package progress redraws a single status line reporting the compile
// stage's progress, polling the compile pool's BuildInfo records at a
// fixed interval. It only redraws when stdout is actually a terminal,
// checked through golang.org/x/term.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgterm "github.com/pkg/term"
	"golang.org/x/term"

	"github.com/jetsetilly/ncpatcher/internal/compiletask"
)

// Ticker redraws a single status line at a fixed interval until Stop is
// called. On a non-terminal output (redirected to a file, or CI) it never
// draws anything: cursor-movement escapes are never written to a pipe.
type Ticker struct {
	w        io.Writer
	interval time.Duration
	isTerm   bool
	width    int

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup

	// tty holds the controlling terminal while a redraw loop is live, in
	// cbreak mode so stray keypresses don't echo into the line being
	// redrawn. nil when the output isn't a terminal or /dev/tty can't be
	// opened (CI sandboxes).
	tty *pkgterm.Term
}

// NewTicker creates a Ticker writing to w at the given polling interval
// (the build loop uses ~250ms).
func NewTicker(w io.Writer, interval time.Duration) *Ticker {
	t := &Ticker{w: w, interval: interval, width: 80}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t.isTerm = true
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			t.width = cols
		}
	}
	return t
}

// Start begins polling infos every interval, redrawing a line naming the
// most recently started task and a "done/total" counter, until Stop is
// called. It is a no-op (besides returning the stop function) when the
// Ticker was created against a non-terminal writer.
func (t *Ticker) Start(infos []*compiletask.BuildInfo) (stop func()) {
	if !t.isTerm || len(infos) == 0 {
		return func() {}
	}

	if tt, err := pkgterm.Open("/dev/tty", pkgterm.CBreakMode); err == nil {
		t.tty = tt
	}

	t.done = make(chan struct{})
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				t.clearLine()
				return
			case <-ticker.C:
				t.draw(infos)
			}
		}
	}()

	return t.stop
}

func (t *Ticker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		return
	}
	close(t.done)
	t.wg.Wait()
	t.done = nil

	if t.tty != nil {
		_ = t.tty.Restore()
		_ = t.tty.Close()
		t.tty = nil
	}
}

func (t *Ticker) draw(infos []*compiletask.BuildInfo) {
	var done, running int
	var current string
	for _, info := range infos {
		state, _, _ := info.Snapshot()
		switch state {
		case compiletask.Done, compiletask.Failed:
			done++
		case compiletask.Running:
			running++
			current = info.Source
		}
	}

	line := fmt.Sprintf("[%d/%d] compiling %s", done, len(infos), current)
	if len(line) > t.width {
		line = line[:t.width]
	}
	fmt.Fprintf(t.w, "\r%s\r%s", strings.Repeat(" ", t.width), line)
}

func (t *Ticker) clearLine() {
	fmt.Fprintf(t.w, "\r%s\r", strings.Repeat(" ", t.width))
}
