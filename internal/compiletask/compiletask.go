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

// Package compiletask runs the compile stage's bounded worker pool
// (a bounded worker pool whose width is the configured thread-count). One
// task compiles one source file; each task only ever mutates its own
// BuildInfo record, and the caller is the single reader of every record
// once Run returns. No task here decides whether it needs to run at all -
// that decision belongs to the rebuild cache, upstream of this package.
package compiletask

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle of one compile task, polled by a caller-owned
// progress line polls each task's update
// goroutine's state.
type State int

const (
	Pending State = iota
	Running
	Done
	Failed
)

// BuildInfo is the only piece of shared state a task mutates. A caller may
// read it at any time; only the owning task ever writes to it, and only
// through the Pool's internal mutex-guarded setters, so polling it for a
// progress display never races with the task that owns it.
type BuildInfo struct {
	Source string

	mu       sync.Mutex
	state    State
	duration time.Duration
	err      error
}

func (b *BuildInfo) setState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

func (b *BuildInfo) finish(d time.Duration, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.duration = d
	b.err = err
	if err != nil {
		b.state = Failed
	} else {
		b.state = Done
	}
}

// Snapshot returns a copy of the task's current state, safe to read from
// any goroutine while the pool is still running.
func (b *BuildInfo) Snapshot() (State, time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.duration, b.err
}

// Task is one unit of compile work: turn a source file into an object
// file. The pool runs every task it is given; the up-to-date/rebuild-cache
// check is made by the caller before the task list is built.
type Task struct {
	Source string
	Run    func(ctx context.Context) error
}

// Pool runs a fixed list of Tasks with bounded concurrency, one goroutine
// slot per width. Width <= 0 is treated as 1 (the sequential case the
// single-core configuration of thread-count: 1 reduces to).
type Pool struct {
	width int
}

// New returns a Pool with the given width, taken directly from the
// configuration's thread-count.
func New(width int) *Pool {
	if width <= 0 {
		width = 1
	}
	return &Pool{width: width}
}

// Run executes every task, at most p.width concurrently, and returns one
// BuildInfo per task (in the same order as tasks) once every task has
// either completed or failed. It does not stop early on the first
// failure: every task gets a chance to run, and every failure is reported
// in aggregate at join time.
func (p *Pool) Run(ctx context.Context, tasks []Task) []*BuildInfo {
	return p.RunObserved(ctx, tasks, nil)
}

// RunObserved behaves exactly like Run, except that onStart (when non-nil)
// is handed the allocated BuildInfo records before any task begins - the
// hook a caller-owned progress line needs to start polling from the first
// moment there is anything to report, rather than only once Run has
// already returned everything.
func (p *Pool) RunObserved(ctx context.Context, tasks []Task, onStart func([]*BuildInfo)) []*BuildInfo {
	infos := make([]*BuildInfo, len(tasks))
	for i, t := range tasks {
		infos[i] = &BuildInfo{Source: t.Source, state: Pending}
	}
	if onStart != nil {
		onStart(infos)
	}

	sem := make(chan struct{}, p.width)
	var wg sync.WaitGroup
	for i, t := range tasks {
		i, t := i, t
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			infos[i].setState(Running)
			start := time.Now()
			err := t.Run(ctx)
			infos[i].finish(time.Since(start), err)
		}()
	}
	wg.Wait()

	return infos
}

// Errors collects the non-nil errors out of a completed Run, in task
// order, for the top-level caller to report in aggregate.
func Errors(infos []*BuildInfo) []error {
	var out []error
	for _, info := range infos {
		if _, _, err := info.Snapshot(); err != nil {
			out = append(out, err)
		}
	}
	return out
}
