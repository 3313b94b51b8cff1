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

// Package rebuildcache persists the fingerprint of the last successful
// build - configuration/target mtimes, the set of overlays patched last
// time, and the accumulated --define list - so the next invocation can
// decide what must be rebuilt without re-running the whole pipeline. It is
// read once at the start of a build and overwritten once at the end of a
// successful one.
package rebuildcache

import (
	"os"
	"sort"

	"github.com/jetsetilly/ncpatcher/internal/byteio"
	"github.com/jetsetilly/ncpatcher/internal/curated"
)

// fixedHeaderSize is everything up to and including defines_count:
// three 8-byte time_t fields plus three 4-byte counts.
const fixedHeaderSize = 8*3 + 4*3

// Cache is the last-build fingerprint: config/target mtimes, the
// per-CPU patched-overlay sets and the define list. ("Rebuild
// cache".
type Cache struct {
	BuildConfigMtime int64
	Arm7TargetMtime  int64
	Arm9TargetMtime  int64

	Arm7PatchedOverlays []uint32
	Arm9PatchedOverlays []uint32

	Defines []string
}

// Load reads the cache at path. A missing file is not an error: it means
// this is the first build, and is reported as a zero-value Cache so that
// every NeedsFullRebuild comparison against it fails (forcing a full
// rebuild, same as an explicitly invalidated cache would).
func Load(path string) (*Cache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Cache{}, nil
		}
		return nil, curated.Errorf(curated.FileUnreadable, path, err)
	}

	if len(data) < fixedHeaderSize {
		return nil, curated.Errorf(curated.RebuildCacheCorrupt, "file is smaller than its fixed header")
	}

	c := &Cache{
		BuildConfigMtime: int64(byteio.ReadU64LE(data, 0)),
		Arm7TargetMtime:  int64(byteio.ReadU64LE(data, 8)),
		Arm9TargetMtime:  int64(byteio.ReadU64LE(data, 16)),
	}
	arm7Count := byteio.ReadU32LE(data, 24)
	arm9Count := byteio.ReadU32LE(data, 28)
	definesCount := byteio.ReadU32LE(data, 32)

	off := fixedHeaderSize
	if !byteio.InBounds(data, off, int(arm7Count)*4) {
		return nil, curated.Errorf(curated.RebuildCacheCorrupt, "arm7 patched-overlay list is truncated")
	}
	for i := uint32(0); i < arm7Count; i++ {
		c.Arm7PatchedOverlays = append(c.Arm7PatchedOverlays, byteio.ReadU32LE(data, off))
		off += 4
	}

	if !byteio.InBounds(data, off, int(arm9Count)*4) {
		return nil, curated.Errorf(curated.RebuildCacheCorrupt, "arm9 patched-overlay list is truncated")
	}
	for i := uint32(0); i < arm9Count; i++ {
		c.Arm9PatchedOverlays = append(c.Arm9PatchedOverlays, byteio.ReadU32LE(data, off))
		off += 4
	}

	for i := uint32(0); i < definesCount; i++ {
		if !byteio.InBounds(data, off, 4) {
			return nil, curated.Errorf(curated.RebuildCacheCorrupt, "define list is truncated")
		}
		length := int(byteio.ReadU32LE(data, off))
		off += 4
		if !byteio.InBounds(data, off, length) {
			return nil, curated.Errorf(curated.RebuildCacheCorrupt, "define string is truncated")
		}
		c.Defines = append(c.Defines, string(data[off:off+length]))
		off += length
	}

	if off != len(data) {
		return nil, curated.Errorf(curated.RebuildCacheCorrupt, "trailing bytes after the last recorded define")
	}

	return c, nil
}

// Save serialises c to path in the fixed binary cache layout,
// overwriting whatever was there before. It is called once, at the very
// end of a successful build.
func (c *Cache) Save(path string) error {
	size := fixedHeaderSize + len(c.Arm7PatchedOverlays)*4 + len(c.Arm9PatchedOverlays)*4
	for _, d := range c.Defines {
		size += 4 + len(d)
	}

	buf := make([]byte, size)
	byteio.WriteU64LE(buf, 0, uint64(c.BuildConfigMtime))
	byteio.WriteU64LE(buf, 8, uint64(c.Arm7TargetMtime))
	byteio.WriteU64LE(buf, 16, uint64(c.Arm9TargetMtime))
	byteio.WriteU32LE(buf, 24, uint32(len(c.Arm7PatchedOverlays)))
	byteio.WriteU32LE(buf, 28, uint32(len(c.Arm9PatchedOverlays)))
	byteio.WriteU32LE(buf, 32, uint32(len(c.Defines)))

	off := fixedHeaderSize
	for _, ov := range c.Arm7PatchedOverlays {
		byteio.WriteU32LE(buf, off, ov)
		off += 4
	}
	for _, ov := range c.Arm9PatchedOverlays {
		byteio.WriteU32LE(buf, off, ov)
		off += 4
	}
	for _, d := range c.Defines {
		byteio.WriteU32LE(buf, off, uint32(len(d)))
		off += 4
		copy(buf[off:off+len(d)], d)
		off += len(d)
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return curated.Errorf(curated.FileUnwritable, path, err)
	}
	return nil
}

// sameDefines reports whether a and b name the same defines, irrespective
// of order - the compiler invocation is order-sensitive but the rebuild
// decision only cares about the set that participated in the last build.
func sameDefines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// NeedsFullRebuild reports whether the configuration file, a target's build
// script, or the define list changed since the cache was written - any of
// which forces every object belonging to that target to be recompiled
// rather than incrementally rebuilt. storedTargetMtime is whichever of
// c.Arm7TargetMtime/c.Arm9TargetMtime corresponds to the target being
// checked.
func (c *Cache) NeedsFullRebuild(buildConfigMtime, storedTargetMtime, targetMtime int64, defines []string) bool {
	if c.BuildConfigMtime != buildConfigMtime {
		return true
	}
	if storedTargetMtime != targetMtime {
		return true
	}
	return !sameDefines(c.Defines, defines)
}

// OverlaysToRestore returns the overlays named in previous but not in
// current, sorted ascending: the overlays that were patched by the last
// build but will not be touched by this one, and therefore must be
// reloaded from the backup directory before this build starts so their
// previous patches don't linger in the output.
func OverlaysToRestore(previous, current []uint32) []uint32 {
	curSet := make(map[uint32]bool, len(current))
	for _, ov := range current {
		curSet[ov] = true
	}
	var out []uint32
	for _, ov := range previous {
		if !curSet[ov] {
			out = append(out, ov)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
