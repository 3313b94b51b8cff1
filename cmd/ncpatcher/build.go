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
	"os"
	"path/filepath"

	"github.com/jetsetilly/ncpatcher/internal/appctx"
	"github.com/jetsetilly/ncpatcher/internal/buildstats"
	"github.com/jetsetilly/ncpatcher/internal/config"
	"github.com/jetsetilly/ncpatcher/internal/curated"
	"github.com/jetsetilly/ncpatcher/internal/rebuildcache"
	"github.com/jetsetilly/ncpatcher/internal/respath"
)

// rebuildCacheName is the fixed name of the rebuild-cache file, kept
// alongside the configuration it fingerprints.
const rebuildCacheName = ".ncpatcher-cache"

// build runs the whole pipeline against the configuration at
// configPath: load config, consult the rebuild cache, build whichever of
// arm7/arm9 are configured, and write the cache back on success. rec is nil
// unless --stats-addr was given.
func build(ctx *appctx.Context, configPath string, rec *buildstats.Recorder) error {
	release := ctx.PushContext("loading configuration " + configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	release()

	configAbs, err := filepath.Abs(configPath)
	if err != nil {
		return curated.Errorf(curated.FileNotFound, configPath)
	}
	configDir := filepath.Dir(configAbs)
	configInfo, err := os.Stat(configAbs)
	if err != nil {
		return curated.Errorf(curated.FileNotFound, configAbs)
	}

	backupDir, err := resolveOptionalDir(cfg.Backup, configDir)
	if err != nil {
		return err
	}
	romRoot, err := respath.Expand(cfg.Filesystem, configDir)
	if err != nil {
		return err
	}

	cachePath := filepath.Join(configDir, rebuildCacheName)
	cache, err := rebuildcache.Load(cachePath)
	if err != nil {
		return err
	}

	toolchain := cfg.Toolchain

	ctxBg := context.Background()

	if err := runShellCommands(ctxBg, ctx, configDir, cfg.PreBuild, "pre-build"); err != nil {
		return err
	}

	var arm9Mtime, arm7Mtime int64 = cache.Arm9TargetMtime, cache.Arm7TargetMtime
	var arm9Overlays, arm7Overlays []uint32

	if cfg.Arm9 != nil {
		release := ctx.PushContext("building arm9 target")
		info, overlays, berr := buildTarget(ctxBg, ctx, buildParams{
			cpu:              "9",
			cfg:              cfg,
			target:           cfg.Arm9,
			configDir:        configDir,
			configMtime:      configInfo.ModTime().Unix(),
			romRoot:          romRoot,
			backupDir:        backupDir,
			toolchain:        toolchain,
			storedMtime:      cache.Arm9TargetMtime,
			previousOverlays: cache.Arm9PatchedOverlays,
			cache:            cache,
			rec:              rec,
		})
		if berr != nil {
			return berr
		}
		release()
		arm9Mtime = info
		arm9Overlays = overlays
	}

	if cfg.Arm7 != nil {
		release := ctx.PushContext("building arm7 target")
		info, overlays, berr := buildTarget(ctxBg, ctx, buildParams{
			cpu:              "7",
			cfg:              cfg,
			target:           cfg.Arm7,
			configDir:        configDir,
			configMtime:      configInfo.ModTime().Unix(),
			romRoot:          romRoot,
			backupDir:        backupDir,
			toolchain:        toolchain,
			storedMtime:      cache.Arm7TargetMtime,
			previousOverlays: cache.Arm7PatchedOverlays,
			cache:            cache,
			rec:              rec,
		})
		if berr != nil {
			return berr
		}
		release()
		arm7Mtime = info
		arm7Overlays = overlays
	}

	newCache := &rebuildcache.Cache{
		BuildConfigMtime:    configInfo.ModTime().Unix(),
		Arm9TargetMtime:     arm9Mtime,
		Arm7TargetMtime:     arm7Mtime,
		Arm9PatchedOverlays: arm9Overlays,
		Arm7PatchedOverlays: arm7Overlays,
		Defines:             ctx.Defines,
	}
	if err := newCache.Save(cachePath); err != nil {
		return err
	}

	return runShellCommands(ctxBg, ctx, configDir, cfg.PostBuild, "post-build")
}

// resolveOptionalDir expands an optional configuration directory field
// (empty disables the feature it backs, e.g. no backup directory) and makes
// sure it exists.
func resolveOptionalDir(dir, base string) (string, error) {
	if dir == "" {
		return "", nil
	}
	abs, err := respath.Expand(dir, base)
	if err != nil {
		return "", err
	}
	if err := respath.EnsureDir(abs); err != nil {
		return "", err
	}
	return abs, nil
}
