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
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jetsetilly/ncpatcher/internal/curated"
)

// The configured "filesystem" directory is a ROM already unpacked into a
// directory tree, the same layout ndstool's own extraction mode produces:
// no single ROM file to carve header/overlay-table offsets out of, so each
// piece lives at a fixed, independently addressable path under that root.
const (
	romHeaderFile  = "header.bin"
	arm9OvtFile    = "y9.bin"
	arm7OvtFile    = "y7.bin"
)

// overlayPath returns where overlay id's payload lives under romRoot, for
// either CPU ("9" or "7").
func overlayPath(romRoot, cpu string, id uint32) string {
	return filepath.Join(romRoot, "overlay"+cpu, fmt.Sprintf("overlay%s_%04d.bin", cpu, id))
}

// parseAddr parses a hex ("0x...") or decimal address/size field out of the
// configuration. An empty string parses as 0, so optional fields (max-size,
// an overlay's replace-mode address) don't need their own presence check.
func parseAddr(field, s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, curated.Errorf(curated.InvalidConfiguration, fmt.Sprintf("%s: %q is not a valid address: %v", field, s, err))
	}
	return uint32(v), nil
}

// parseDest turns a region's "dest" field ("main" or "ovNN") into the
// destination tag used throughout the pipeline: -1 for the main ARM binary,
// else the overlay id.
func parseDest(s string) (int, error) {
	if s == "" || s == "main" {
		return -1, nil
	}
	n, ok := strings.CutPrefix(s, "ov")
	if !ok {
		return 0, curated.Errorf(curated.InvalidConfiguration, fmt.Sprintf("region dest %q must be \"main\" or \"ovNN\"", s))
	}
	id, err := strconv.Atoi(n)
	if err != nil || id < 0 {
		return 0, curated.Errorf(curated.InvalidConfiguration, fmt.Sprintf("region dest %q must be \"main\" or \"ovNN\"", s))
	}
	return id, nil
}

// appendMode reports whether a region's "mode" field requests append
// (growing an existing destination's code) as opposed to replace
// (discarding it). The main ARM binary is always effectively append mode:
// it never loses its existing code, only gains an autoload entry.
func appendMode(mode string) bool {
	return mode != "replace"
}
