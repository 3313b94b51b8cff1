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

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jetsetilly/ncpatcher/internal/appctx"
	"github.com/jetsetilly/ncpatcher/internal/arenalo"
	"github.com/jetsetilly/ncpatcher/internal/armcode"
	"github.com/jetsetilly/ncpatcher/internal/blzext"
	"github.com/jetsetilly/ncpatcher/internal/buildexec"
	"github.com/jetsetilly/ncpatcher/internal/buildstats"
	"github.com/jetsetilly/ncpatcher/internal/compiletask"
	"github.com/jetsetilly/ncpatcher/internal/config"
	"github.com/jetsetilly/ncpatcher/internal/curated"
	"github.com/jetsetilly/ncpatcher/internal/depgraph"
	"github.com/jetsetilly/ncpatcher/internal/depresolve"
	"github.com/jetsetilly/ncpatcher/internal/finalize"
	"github.com/jetsetilly/ncpatcher/internal/linkscript"
	"github.com/jetsetilly/ncpatcher/internal/overwrite"
	"github.com/jetsetilly/ncpatcher/internal/patchdir"
	"github.com/jetsetilly/ncpatcher/internal/progress"
	"github.com/jetsetilly/ncpatcher/internal/rebuildcache"
	"github.com/jetsetilly/ncpatcher/internal/respath"
	"github.com/jetsetilly/ncpatcher/internal/romio"
	"github.com/jetsetilly/ncpatcher/internal/romwriter"
	"github.com/jetsetilly/ncpatcher/internal/unitreg"
)

// buildParams carries everything one per-CPU build needs from the top-level
// build() loop.
type buildParams struct {
	cpu              string // "9" or "7"
	cfg              *config.Root
	target           *config.Target
	configDir        string
	configMtime      int64
	romRoot          string
	backupDir        string
	toolchain        string
	storedMtime      int64
	previousOverlays []uint32
	cache            *rebuildcache.Cache
	rec              *buildstats.Recorder
}

// regionInfo is one configuration region after its string fields have been
// parsed into their working form.
type regionInfo struct {
	dest       int
	mode       string
	address    uint32
	maxSize    uint32
	ranges     []overwrite.Range
	sourceDirs []string
}

// compileJob is one source file mapped to its object path and the region it
// was declared under.
type compileJob struct {
	source string
	object string
	dest   int
}

// buildTarget runs the complete patch pipeline for one CPU: compile the
// region sources, extract directives, resolve dependencies, allocate
// overwrite regions, link, finalise, rewrite the ARM binary and overlays,
// and save everything back into the ROM tree. It returns the target file's
// mtime and the sorted list of overlay ids patched this run, both destined
// for the rebuild cache.
func buildTarget(ctx context.Context, appCtx *appctx.Context, p buildParams) (int64, []uint32, error) {
	arch := armcode.ARM7TDMI
	if p.cpu == "9" {
		arch = armcode.ARMv7M
	}

	targetPath, err := respath.Expand(p.target.Target, p.configDir)
	if err != nil {
		return 0, nil, err
	}
	targetInfo, err := os.Stat(targetPath)
	if err != nil {
		return 0, nil, curated.Errorf(curated.FileNotFound, targetPath)
	}
	targetMtime := targetInfo.ModTime().Unix()

	tgt, err := config.LoadTarget(targetPath)
	if err != nil {
		return 0, nil, err
	}

	workdir := p.configDir
	if p.target.WorkDir != "" {
		workdir, err = respath.Expand(p.target.WorkDir, p.configDir)
		if err != nil {
			return 0, nil, err
		}
	}
	buildDir, err := respath.Expand(p.target.Build, p.configDir)
	if err != nil {
		return 0, nil, err
	}
	if err := respath.EnsureDir(buildDir); err != nil {
		return 0, nil, err
	}

	forceRebuild := p.cache.NeedsFullRebuild(p.configMtime, p.storedMtime, targetMtime, appCtx.Defines)
	if forceRebuild {
		appCtx.Log.Logf("build", "arm%s: configuration changed, rebuilding everything", p.cpu)
	}

	regions, err := parseRegions(tgt, workdir)
	if err != nil {
		return 0, nil, err
	}

	// ROM image I/O: header, main binary, overlay table. Loading always
	// prefers the backup copy, so a re-run patches the pristine bytes.
	backup := romio.BackupDir{Path: p.backupDir}
	decode := blzext.Decoder(p.cfg.Blz)

	header, err := romio.LoadHeader(filepath.Join(p.romRoot, romHeaderFile))
	if err != nil {
		return 0, nil, err
	}
	entryAddr, ramAddr, hookOff, ovtFile := headerFields(header, p.cpu)

	armPath := filepath.Join(p.romRoot, "arm"+p.cpu+".bin")
	var arm *romio.ArmBinary
	if hookOff != 0 {
		arm, err = romio.LoadArm(armPath, entryAddr, ramAddr, hookOff, backup, decode)
	} else {
		arm, err = romio.LoadArmAuto(armPath, entryAddr, ramAddr, backup, decode)
	}
	if err != nil {
		return 0, nil, err
	}

	ovtPath := filepath.Join(p.romRoot, ovtFile)
	var entries []romio.OvtEntry
	var ovtRaw []byte
	if _, statErr := os.Stat(ovtPath); statErr == nil {
		entries, ovtRaw, err = romio.LoadOverlayTable(ovtPath, backup)
		if err != nil {
			return 0, nil, err
		}
	}
	entryIdx := make(map[int]int, len(entries))
	for i := range entries {
		entryIdx[int(entries[i].OverlayID)] = i
	}

	// Compile stage: one task per source file, bounded by thread-count.
	jobs, err := collectCompileJobs(regions, workdir, buildDir)
	if err != nil {
		return 0, nil, err
	}
	if err := compileAll(ctx, appCtx, p, tgt, workdir, jobs, forceRebuild); err != nil {
		return 0, nil, err
	}

	// Compilation-unit registry: user objects plus any archives the
	// target's linker flags name.
	reg := unitreg.New()
	for _, j := range jobs {
		u, err := reg.AddUserObject(j.object)
		if err != nil {
			return 0, nil, err
		}
		u.RegionDest = j.dest
	}
	archives, err := addLibraries(appCtx, reg, tgt, workdir)
	if err != nil {
		return 0, nil, err
	}

	// Directive extraction.
	modeByDest := make(map[int]string, len(regions))
	for _, r := range regions {
		modeByDest[r.dest] = r.mode
	}
	res, err := patchdir.Extract(reg, func(ov int) bool {
		if ov == -1 {
			return true
		}
		m, ok := modeByDest[ov]
		return ok && appendMode(m)
	})
	if err != nil {
		return 0, nil, err
	}
	if err := res.ResolvePendingSymver(); err != nil {
		return 0, nil, err
	}
	appCtx.Log.Logf("patch", "arm%s: %d patches, %d overwrite candidates, %d external symbols",
		p.cpu, len(res.Patches), len(res.OverwriteCandidates), len(res.ExternalSymbols))

	// Dependency resolution: mark everything reachable from a patch or an
	// external symbol, then drop unmarked overwrite candidates.
	g, err := depresolve.Build(reg, func(msg string) { appCtx.Log.Log("symbols", msg) })
	if err != nil {
		return 0, nil, err
	}
	for _, pch := range res.Patches {
		if pch.SectionIdx >= 0 {
			g.MarkEntry(pch.Unit, pch.SectionIdx)
		} else {
			g.MarkEntrySymbol(pch.Symbol)
		}
	}
	for _, s := range res.ExternalSymbols {
		g.MarkEntrySymbol(s)
	}
	var verbose func(string)
	if appCtx.Log.Allowed("section") {
		verbose = func(msg string) { appCtx.Log.Log("section", msg) }
	}
	g.Mark(verbose)
	if err := res.ResolvePendingSrcThumb(func(u *unitreg.Unit, name string) (uint32, bool) {
		return g.ResolveSymbolAddress(u, name)
	}); err != nil {
		return 0, nil, err
	}
	if appCtx.Log.Allowed("section") {
		exportDepGraph(appCtx, g, filepath.Join(buildDir, "depgraph.dot"))
	}

	// Overwrite-region allocation over the surviving candidates. A
	// directive-named section carries its own destination; an ordinary
	// candidate takes the destination of the region that compiled it.
	kept := g.ExcludeUnused(len(res.OverwriteCandidates),
		func(i int) *unitreg.Unit { return res.OverwriteCandidates[i].Unit },
		func(i int) int { return res.OverwriteCandidates[i].Idx })
	var sections []overwrite.Section
	for _, i := range kept {
		c := res.OverwriteCandidates[i]
		sh := c.Unit.ELF.SectionHeader(c.Idx)
		dest := c.Unit.RegionDest
		if d, ok := patchdir.SectionDestination(c.Name); ok {
			dest = d
		}
		sections = append(sections, overwrite.Section{
			Unit: c.Unit, Idx: c.Idx, Name: c.Name, Size: c.Size,
			Alignment: sh.AddrAlign, Dest: dest,
		})
	}
	ranges := make(map[int][]overwrite.Range)
	for _, r := range regions {
		if len(r.ranges) > 0 {
			ranges[r.dest] = append(ranges[r.dest], r.ranges...)
		}
	}
	owRegions, unplaced := overwrite.Allocate(ranges, sections)
	appCtx.Log.Logf("section", "arm%s: %d sections placed in overwrite regions, %d fall through to newcode",
		p.cpu, len(sections)-len(unplaced), len(unplaced))

	// Load every overlay the build will touch.
	destSet := destinationSet(regions, res.Patches, unplaced)
	overlays := make(map[int]*romio.OverlayBin)
	for _, d := range destSet {
		if d < 0 {
			continue
		}
		i, ok := entryIdx[d]
		if !ok {
			return 0, nil, curated.Errorf(curated.InvalidConfiguration, fmt.Sprintf("overlay %d is not in the overlay table", d))
		}
		ov, err := romio.LoadOverlay(overlayPath(p.romRoot, p.cpu, uint32(d)), &entries[i], backup, decode)
		if err != nil {
			return 0, nil, err
		}
		overlays[d] = ov
	}

	// The main binary's newcode lands at the current autoload heap top,
	// read through (or discovered alongside) arenaLo.
	armView := romwriter.NewArmCodeBin(arm)
	arenaLoAddr, err := parseAddr("arenaLo", tgt.ArenaLo)
	if err != nil {
		return 0, nil, err
	}
	var newcodeAddr uint32
	if containsDest(destSet, -1) {
		if arenaLoAddr == 0 {
			found, err := arenalo.Find(arm, arch)
			if err != nil {
				return 0, nil, err
			}
			arenaLoAddr = found.ArenaLoAddr
			newcodeAddr = found.NewcodeAddr
			appCtx.Log.Logf("build", "arm%s: discovered arenaLo at %#08x (heap top %#08x)", p.cpu, arenaLoAddr, newcodeAddr)
		} else {
			newcodeAddr, err = armView.ReadU32(arenaLoAddr)
			if err != nil {
				return 0, nil, err
			}
		}
	}

	// Linker script synthesis and the link itself.
	plan := buildPlan(res, regions, owRegions, unplaced, jobs, archives, destSet, entryIdx, entries, newcodeAddr)
	scriptPath := filepath.Join(buildDir, "ncpatcher.ld")
	if err := linkscript.Write(plan, scriptPath); err != nil {
		return 0, nil, err
	}
	ldFlags := strings.Fields(tgt.LdFlags)
	if tgt.Symbols != "" {
		symPath, err := respath.Expand(tgt.Symbols, workdir)
		if err != nil {
			return 0, nil, err
		}
		ldFlags = append(ldFlags, "-Wl,-T"+symPath)
	}
	outPath := filepath.Join(buildDir, "arm"+p.cpu+".elf")
	linked, err := linkscript.Link(ctx, p.toolchain+"gcc", workdir, scriptPath, outPath, ldFlags)
	if err != nil {
		return 0, nil, err
	}
	appCtx.Log.Logf("linking", "arm%s: linked %s", p.cpu, outPath)

	// Finalisation against the linked ELF.
	fres, err := finalize.Finalize(linked, res.Patches, owRegions, func(msg string) { appCtx.Log.Log("patch", msg) })
	if err != nil {
		return 0, nil, err
	}
	for _, pch := range res.Patches {
		if pch.Type == patchdir.RtRepl {
			continue
		}
		if pch.SrcAddress == 0 {
			return 0, nil, curated.Errorf(curated.InvalidDirective, pch.Symbol, "patch source was not resolved by the link")
		}
	}

	// Rewrite: patches and overwrite regions first (interworking/hook
	// bridges land inside the in-memory newcode payloads), then the
	// newcode splice that carries those payloads into the binaries.
	bins := romwriter.Bins{-1: armView}
	for id, ov := range overlays {
		bins[id] = romwriter.NewOverlayCodeBin(ov)
	}
	if err := romwriter.ApplyPatches(linked, bins, res.Patches, fres, arch); err != nil {
		return 0, nil, err
	}
	if err := romwriter.ApplyOverwriteRegions(linked, bins, owRegions); err != nil {
		return 0, nil, err
	}

	if nc := fres.Newcodes[-1]; nc != nil && (len(nc.CodeData) > 0 || nc.BSSSize > 0) {
		if err := romwriter.ApplyArmNewcode(arm, nc, newcodeAddr); err != nil {
			return 0, nil, err
		}
		if err := romwriter.AdvanceAutoloadHeap(armView, arenaLoAddr, newcodeAddr, nc); err != nil {
			return 0, nil, err
		}
		if p.rec != nil {
			p.rec.RecordNewcodeSize("arm"+p.cpu, len(nc.CodeData))
		}
	}
	for _, d := range destSet {
		if d < 0 {
			continue
		}
		nc := fres.Newcodes[d]
		if nc == nil {
			continue
		}
		mode := romwriter.OverlayAppend
		var maxSize, replaceAddr uint32
		for _, r := range regions {
			if r.dest != d {
				continue
			}
			maxSize = r.maxSize
			replaceAddr = r.address
			if r.mode == "replace" {
				mode = romwriter.OverlayReplace
			}
		}
		i := entryIdx[d]
		if err := romwriter.ApplyOverlayNewcode(overlays[d], &entries[i], nc, mode, replaceAddr, maxSize); err != nil {
			return 0, nil, err
		}
		if p.rec != nil {
			p.rec.RecordNewcodeSize(fmt.Sprintf("ov%d", d), len(nc.CodeData))
		}
	}

	// Save. This is the only point on-disk state changes; everything above
	// worked against in-memory buffers.
	if err := romio.SaveArm(arm, armPath); err != nil {
		return 0, nil, err
	}
	var patched []uint32
	for id, ov := range overlays {
		if !ov.Dirty {
			continue
		}
		if err := romio.SaveOverlay(ov, overlayPath(p.romRoot, p.cpu, uint32(id))); err != nil {
			return 0, nil, err
		}
		patched = append(patched, uint32(id))
	}
	sort.Slice(patched, func(i, j int) bool { return patched[i] < patched[j] })

	// Overlays patched last run but untouched this run revert to their
	// pristine bytes; their table entries were never mutated this run and
	// so are already pristine.
	for _, id := range rebuildcache.OverlaysToRestore(p.previousOverlays, patched) {
		i, ok := entryIdx[int(id)]
		if !ok {
			continue
		}
		path := overlayPath(p.romRoot, p.cpu, id)
		ov, err := romio.LoadOverlay(path, &entries[i], backup, decode)
		if err != nil {
			return 0, nil, err
		}
		if err := romio.SaveOverlay(ov, path); err != nil {
			return 0, nil, err
		}
		appCtx.Log.Logf("build", "arm%s: restored overlay %d from backup", p.cpu, id)
	}

	if len(entries) > 0 {
		if err := romio.SaveOverlayTable(entries, ovtRaw, ovtPath); err != nil {
			return 0, nil, err
		}
	}

	return targetMtime, patched, nil
}

// headerFields picks the per-CPU fields out of the ROM header.
func headerFields(h *romio.Header, cpu string) (entryAddr, ramAddr, hookOff uint32, ovtFile string) {
	if cpu == "9" {
		return h.Arm9EntryAddr, h.Arm9RamAddr, h.Arm9AutoloadHookOff, arm9OvtFile
	}
	return h.Arm7EntryAddr, h.Arm7RamAddr, h.Arm7AutoloadHookOff, arm7OvtFile
}

// parseRegions parses every configuration region's string fields, rejecting
// the "create" mode outright.
func parseRegions(tgt *config.Target, workdir string) ([]regionInfo, error) {
	var out []regionInfo
	for _, r := range tgt.Regions {
		dest, err := parseDest(r.Dest)
		if err != nil {
			return nil, err
		}
		if r.Mode == "create" {
			return nil, curated.Errorf(curated.InvalidDestinationMode, r.Dest, dest)
		}
		addr, err := parseAddr("address", r.Address)
		if err != nil {
			return nil, err
		}
		maxSize, err := parseAddr("maxsize", r.MaxSize)
		if err != nil {
			return nil, err
		}
		info := regionInfo{dest: dest, mode: r.Mode, address: addr, maxSize: maxSize}
		for _, pair := range r.Overwrites {
			start, err := parseAddr("overwrites", pair[0])
			if err != nil {
				return nil, err
			}
			end, err := parseAddr("overwrites", pair[1])
			if err != nil {
				return nil, err
			}
			if start >= end {
				return nil, curated.Errorf(curated.InvalidConfiguration, fmt.Sprintf("overwrite range %#x..%#x is empty", start, end))
			}
			info.ranges = append(info.ranges, overwrite.Range{Start: start, End: end})
		}
		for _, src := range r.Sources {
			dir, err := respath.Expand(src, workdir)
			if err != nil {
				return nil, err
			}
			info.sourceDirs = append(info.sourceDirs, dir)
		}
		out = append(out, info)
	}
	return out, nil
}

// collectCompileJobs walks every region's source directories for
// compilable files and maps each to an object path under buildDir.
func collectCompileJobs(regions []regionInfo, workdir, buildDir string) ([]compileJob, error) {
	var jobs []compileJob
	for _, r := range regions {
		for _, dir := range r.sourceDirs {
			des, err := os.ReadDir(dir)
			if err != nil {
				return nil, curated.Errorf(curated.FileNotFound, dir)
			}
			for _, de := range des {
				if de.IsDir() || !isSourceFile(de.Name()) {
					continue
				}
				src := filepath.Join(dir, de.Name())
				rel, err := filepath.Rel(workdir, src)
				if err != nil {
					rel = de.Name()
				}
				mangled := strings.NewReplacer("/", "_", "\\", "_", "..", "__").Replace(rel)
				jobs = append(jobs, compileJob{
					source: src,
					object: filepath.Join(buildDir, mangled+".o"),
					dest:   r.dest,
				})
			}
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].source < jobs[j].source })
	return jobs, nil
}

func isSourceFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".c", ".cpp", ".cc", ".s":
		return true
	}
	return false
}

// compileAll runs the bounded compile pool over every out-of-date job,
// redrawing a progress line while it works and reporting failures in
// aggregate once every task has finished.
func compileAll(ctx context.Context, appCtx *appctx.Context, p buildParams, tgt *config.Target, workdir string, jobs []compileJob, forceRebuild bool) error {
	var tasks []compiletask.Task
	for _, j := range jobs {
		j := j
		if !forceRebuild && upToDate(j.source, j.object) {
			appCtx.Log.Logf("build", "up to date: %s", j.source)
			continue
		}
		tasks = append(tasks, compiletask.Task{
			Source: j.source,
			Run: func(ctx context.Context) error {
				return compileOne(ctx, p, tgt, workdir, appCtx.Defines, j)
			},
		})
	}
	if len(tasks) == 0 {
		return nil
	}
	appCtx.Log.Logf("build", "arm%s: compiling %d of %d sources", p.cpu, len(tasks), len(jobs))

	pool := compiletask.New(p.cfg.ThreadCount)
	ticker := progress.NewTicker(os.Stdout, 250*time.Millisecond)
	var stop func()
	infos := pool.RunObserved(ctx, tasks, func(infos []*compiletask.BuildInfo) {
		stop = ticker.Start(infos)
	})
	if stop != nil {
		stop()
	}

	if p.rec != nil {
		for _, info := range infos {
			_, d, err := info.Snapshot()
			if err == nil {
				p.rec.RecordCompile(info.Source, d)
			}
		}
	}

	if errs := compiletask.Errors(infos); len(errs) > 0 {
		var msgs []string
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		return curated.Errorf(curated.ExternalToolFailure, "compile",
			fmt.Sprintf("%d of %d sources failed:\n%s", len(errs), len(tasks), strings.Join(msgs, "\n")))
	}
	return nil
}

// upToDate reports whether object exists and is newer than source.
func upToDate(source, object string) bool {
	si, err := os.Stat(source)
	if err != nil {
		return false
	}
	oi, err := os.Stat(object)
	if err != nil {
		return false
	}
	return !oi.ModTime().Before(si.ModTime())
}

// compileOne turns one source file into an object. C and C++ sources are
// first lowered to assembly, then assembled; assembly sources are assembled
// directly.
func compileOne(ctx context.Context, p buildParams, tgt *config.Target, workdir string, defines []string, j compileJob) error {
	driver := p.toolchain + "gcc"
	var langFlags string
	assembleOnly := false
	switch strings.ToLower(filepath.Ext(j.source)) {
	case ".c":
		langFlags = tgt.CFlags
	case ".cpp", ".cc":
		driver = p.toolchain + "g++"
		langFlags = tgt.CppFlags
	default:
		langFlags = tgt.AsmFlags
		assembleOnly = true
	}

	common := strings.Fields(langFlags)
	for _, inc := range tgt.Includes {
		dir, err := respath.Expand(inc, workdir)
		if err != nil {
			return err
		}
		common = append(common, "-I"+dir)
	}
	for _, d := range defines {
		common = append(common, "-D"+d)
	}

	if assembleOnly {
		args := append(common, "-c", j.source, "-o", j.object)
		_, err := buildexec.Run(ctx, workdir, driver, args)
		return err
	}

	asmPath := strings.TrimSuffix(j.object, ".o") + ".s"
	args := append(append([]string(nil), common...), "-S", j.source, "-o", asmPath)
	if _, err := buildexec.Run(ctx, workdir, driver, args); err != nil {
		return err
	}
	args = []string{"-c", asmPath, "-o", j.object}
	_, err := buildexec.Run(ctx, workdir, driver, args)
	return err
}

// addLibraries resolves the archives named by the target's linker flags
// (-L/-l pairs and direct .a paths) and registers their members as library
// units.
func addLibraries(appCtx *appctx.Context, reg *unitreg.Registry, tgt *config.Target, workdir string) ([]string, error) {
	toks := strings.Fields(tgt.LdFlags)

	var libDirs []string
	for _, t := range toks {
		if d, ok := strings.CutPrefix(t, "-L"); ok && d != "" {
			dir, err := respath.Expand(d, workdir)
			if err != nil {
				return nil, err
			}
			libDirs = append(libDirs, dir)
		}
	}

	var archives []string
	addArchive := func(path string) error {
		units, err := reg.AddLibrary(path)
		if err != nil {
			return err
		}
		for _, u := range units {
			u.RegionDest = -1
		}
		archives = append(archives, path)
		appCtx.Log.Logf("library", "%s: %d members", path, len(units))
		return nil
	}

	for _, t := range toks {
		if name, ok := strings.CutPrefix(t, "-l"); ok && name != "" {
			found := false
			for _, dir := range libDirs {
				path := filepath.Join(dir, "lib"+name+".a")
				if _, err := os.Stat(path); err == nil {
					if err := addArchive(path); err != nil {
						return nil, err
					}
					found = true
					break
				}
			}
			if !found {
				appCtx.Log.Logf("nolib", "lib%s.a not found in any -L directory; leaving it to the linker's own search path", name)
			}
			continue
		}
		if strings.HasSuffix(t, ".a") {
			path, err := respath.Expand(t, workdir)
			if err != nil {
				return nil, err
			}
			if _, statErr := os.Stat(path); statErr != nil {
				appCtx.Log.Logf("nolib", "%s: not found", path)
				continue
			}
			if err := addArchive(path); err != nil {
				return nil, err
			}
		}
	}
	return archives, nil
}

// destinationSet returns every destination tag participating in this build,
// sorted with the main binary (-1) first.
func destinationSet(regions []regionInfo, patches []patchdir.PatchRecord, unplaced []overwrite.Section) []int {
	seen := make(map[int]bool)
	for _, r := range regions {
		seen[r.dest] = true
	}
	for _, p := range patches {
		seen[p.DstAddressOv] = true
	}
	for _, s := range unplaced {
		seen[s.Dest] = true
	}
	out := make([]int, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

func containsDest(dests []int, d int) bool {
	for _, x := range dests {
		if x == d {
			return true
		}
	}
	return false
}

// buildPlan assembles the linker-script plan: one Destination per
// participating tag, the overwrite regions as their own memory blocks, a
// dedicated region per over patch and per ncp_set section, and the
// autogen-data hole sized to the bridges the rewrite stage will emit.
func buildPlan(res *patchdir.Result, regions []regionInfo, owRegions []overwrite.Region, unplaced []overwrite.Section, jobs []compileJob, archives []string, destSet []int, entryIdx map[int]int, entries []romio.OvtEntry, newcodeAddr uint32) linkscript.Plan {
	autogenSize := make(map[int]uint32)
	for _, pch := range res.Patches {
		switch {
		case pch.Type == patchdir.Hook && !pch.DstThumb:
			autogenSize[pch.DstAddressOv] += armcode.HookBridgeSize
		case pch.Type == patchdir.Jump && pch.SrcThumb && !pch.DstThumb:
			autogenSize[pch.DstAddressOv] += armcode.BridgeSize
		}
	}

	replaceAddr := make(map[int]uint32)
	replaceMode := make(map[int]bool)
	for _, r := range regions {
		if r.mode == "replace" {
			replaceMode[r.dest] = true
			replaceAddr[r.dest] = r.address
		}
	}

	var plan linkscript.Plan
	for _, j := range jobs {
		plan.Objects = append(plan.Objects, j.object)
	}
	plan.Archives = archives
	plan.Regions = owRegions
	plan.ExternSyms = res.ExternalSymbols

	for _, d := range destSet {
		dst := linkscript.Destination{Tag: d}

		switch {
		case d < 0:
			dst.Address = newcodeAddr
		case replaceMode[d]:
			dst.Address = replaceAddr[d]
		default:
			e := entries[entryIdx[d]]
			dst.Address = e.RamAddress + e.RamSize + e.BssSize
		}

		for _, s := range unplaced {
			if s.Dest == d && strings.HasPrefix(s.Name, ".ncp_") {
				dst.Patches = append(dst.Patches, linkscript.PatchLabel{
					Label: s.Name, Size: uint32(s.Size), Alignment: s.Alignment,
				})
			}
		}
		for _, rt := range res.RtReplMarkers() {
			if rt.Unit.RegionDest == d {
				dst.RtRepl = append(dst.RtRepl, linkscript.RtReplBlob{Label: rt.Symbol})
			}
		}
		if sz := autogenSize[d]; sz > 0 {
			if d < 0 {
				dst.AutogenLabel = "ncp_autogendata"
			} else {
				dst.AutogenLabel = fmt.Sprintf("ncp_autogendata_ov%d", d)
			}
			dst.AutogenSize = sz
		}
		for _, j := range jobs {
			if j.dest == d {
				dst.Objects = append(dst.Objects, j.object)
			}
		}

		plan.Destinations = append(plan.Destinations, dst)
	}

	for _, pch := range res.Patches {
		switch {
		case pch.Type == patchdir.Over:
			plan.OverPatches = append(plan.OverPatches, linkscript.OverPatch{
				Label: pch.Symbol, Address: pch.DstAddress, Size: uint32(pch.SectionSize),
			})
		case pch.IsNcpSet && pch.Origin == patchdir.OriginSection:
			plan.NcpSets = append(plan.NcpSets, linkscript.NcpSetRegion{
				Label: pch.Symbol, Address: pch.DstAddress,
			})
		}
	}

	return plan
}

// exportDepGraph writes the marked dependency graph as a Graphviz .dot
// file next to the build artefacts. Failures are logged, never fatal: the
// graph is a debugging aid, not a build product.
func exportDepGraph(appCtx *appctx.Context, g *depresolve.Graph, path string) {
	f, err := os.Create(path)
	if err != nil {
		appCtx.Log.Logf("section", "dependency graph: %v", err)
		return
	}
	defer f.Close()
	if err := depgraph.Export(g, f); err != nil {
		appCtx.Log.Logf("section", "dependency graph: %v", err)
		return
	}
	appCtx.Log.Logf("section", "dependency graph written to %s", path)
}
