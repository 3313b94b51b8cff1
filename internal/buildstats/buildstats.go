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

// Package buildstats is the optional live build-progress dashboard enabled
// by --stats-addr: statsview drives a live goroutine/heap/GC view of the
// ncpatcher process itself, and a second, much smaller go-echarts bar
// chart (served through rs/cors, same as statsview's own embedded assets
// are) reports the two numbers unique to a patch build - per-object
// compile time and per-destination newcode size.
package buildstats

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/rs/cors"

	"github.com/jetsetilly/ncpatcher/internal/curated"
)

// Recorder accumulates the two series this dashboard charts. A nil
// *Recorder is valid for RecordCompile and RecordNewcodeSize, which are then
// no-ops, so callers don't need to guard every call site with "if
// --stats-addr was given".
type Recorder struct {
	mu sync.Mutex

	compileOrder []string
	compileTime  map[string]time.Duration

	destOrder    []string
	newcodeSize  map[string]int
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		compileTime: make(map[string]time.Duration),
		newcodeSize: make(map[string]int),
	}
}

// RecordCompile notes how long it took to compile object. Calling it again
// for the same object overwrites the previous duration, matching the last
// compile actually performed this build (a cached, skipped object is never
// recorded at all).
func (r *Recorder) RecordCompile(object string, d time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.compileTime[object]; !ok {
		r.compileOrder = append(r.compileOrder, object)
	}
	r.compileTime[object] = d
}

// RecordNewcodeSize notes the final synthesised newcode size, in bytes, for
// a destination tag.
func (r *Recorder) RecordNewcodeSize(dest string, size int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.newcodeSize[dest]; !ok {
		r.destOrder = append(r.destOrder, dest)
	}
	r.newcodeSize[dest] = size
}

func (r *Recorder) snapshot() (objects []string, compileMS []float64, dests []string, sizes []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	objects = append(objects, r.compileOrder...)
	sort.Strings(objects)
	for _, o := range objects {
		compileMS = append(compileMS, float64(r.compileTime[o].Milliseconds()))
	}

	dests = append(dests, r.destOrder...)
	sort.Strings(dests)
	for _, d := range dests {
		sizes = append(sizes, float64(r.newcodeSize[d]))
	}
	return
}

func (r *Recorder) render(w http.ResponseWriter) {
	objects, compileMS, dests, sizes := r.snapshot()

	compile := charts.NewBar()
	compile.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: "Compile time per object (ms)"}))
	compile.SetXAxis(objects).AddSeries("compile ms", barData(compileMS))

	newcode := charts.NewBar()
	newcode.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: "Newcode size per destination (bytes)"}))
	newcode.SetXAxis(dests).AddSeries("newcode bytes", barData(sizes))

	page := components.NewPage()
	page.AddCharts(compile, newcode)
	_ = page.Render(w)
}

func barData(values []float64) []opts.BarData {
	out := make([]opts.BarData, len(values))
	for i, v := range values {
		out[i] = opts.BarData{Value: v}
	}
	return out
}

// Server owns the two listeners backing the dashboard: statsview's own
// process-metrics server, and the ncpatcher-specific build chart next to
// it on an adjacent port.
type Server struct {
	mgr        *statsview.ViewManager
	httpServer *http.Server
}

// Start brings up both servers. addr is the process-metrics dashboard's
// address (e.g. "localhost:18066"); the build chart listens on the same
// host one port above it, since statsview owns its configured listener
// outright and the two pages are meant to be opened side by side.
func Start(addr string, rec *Recorder) (*Server, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, curated.Errorf(curated.InvalidStatsAddr, addr, err)
	}

	viewer.SetConfiguration(viewer.WithAddr(addr), viewer.WithTheme(viewer.ThemeWesteros))
	mgr := statsview.New()
	go mgr.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		rec.render(w)
	})

	buildAddr := net.JoinHostPort(host, adjacentPort(port))
	handler := cors.Default().Handler(mux)
	httpServer := &http.Server{Addr: buildAddr, Handler: handler}

	go func() {
		_ = httpServer.ListenAndServe()
	}()

	return &Server{mgr: mgr, httpServer: httpServer}, nil
}

// Stop shuts down both servers. It is safe to call on a Server returned by
// a failed Start as long as Start itself returned a non-nil error only
// before either server was brought up.
func (s *Server) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	if s.mgr != nil {
		s.mgr.Stop()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(ctx)
	}
}

func adjacentPort(port string) string {
	var n int
	if _, err := fmt.Sscanf(port, "%d", &n); err != nil {
		return port
	}
	return fmt.Sprintf("%d", n+1)
}
