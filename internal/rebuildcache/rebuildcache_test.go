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

package rebuildcache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jetsetilly/ncpatcher/internal/curated"
	"github.com/jetsetilly/ncpatcher/internal/rebuildcache"
	"github.com/jetsetilly/ncpatcher/internal/test"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.bin")

	c := &rebuildcache.Cache{
		BuildConfigMtime:    1700000000,
		Arm7TargetMtime:     1700000001,
		Arm9TargetMtime:     1700000002,
		Arm7PatchedOverlays: []uint32{1, 4},
		Arm9PatchedOverlays: []uint32{2},
		Defines:             []string{"DEBUG", "REGION_EU"},
	}
	test.ExpectSuccess(t, c.Save(path))

	got, err := rebuildcache.Load(path)
	test.ExpectSuccess(t, err)
	test.Equate(t, got, c)
}

func TestLoadMissingFileReturnsZeroValueNotError(t *testing.T) {
	dir := t.TempDir()
	got, err := rebuildcache.Load(filepath.Join(dir, "absent.bin"))
	test.ExpectSuccess(t, err)
	test.Equate(t, got, &rebuildcache.Cache{})
}

func TestLoadTruncatedFileIsRebuildCacheCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.bin")
	test.ExpectSuccess(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	_, err := rebuildcache.Load(path)
	test.ExpectFailure(t, err == nil)
	test.ExpectSuccess(t, curated.Is(err, curated.RebuildCacheCorrupt))
}

func TestNeedsFullRebuild(t *testing.T) {
	c := &rebuildcache.Cache{
		BuildConfigMtime: 100,
		Arm9TargetMtime:  200,
		Defines:          []string{"A", "B"},
	}

	test.ExpectFailure(t, c.NeedsFullRebuild(100, c.Arm9TargetMtime, 200, []string{"B", "A"}))
	test.ExpectSuccess(t, c.NeedsFullRebuild(101, c.Arm9TargetMtime, 200, []string{"A", "B"}))
	test.ExpectSuccess(t, c.NeedsFullRebuild(100, c.Arm9TargetMtime, 201, []string{"A", "B"}))
	test.ExpectSuccess(t, c.NeedsFullRebuild(100, c.Arm9TargetMtime, 200, []string{"A"}))
}

func TestOverlaysToRestore(t *testing.T) {
	previous := []uint32{1, 2, 3}
	current := []uint32{2}
	got := rebuildcache.OverlaysToRestore(previous, current)
	test.Equate(t, got, []uint32{1, 3})
}
