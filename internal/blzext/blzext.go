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

// Package blzext is the external collaborator behind crunched.Decoder:
// decompression is delegated to an external "blz" binary the same way
// internal/buildexec delegates to the compiler driver and the linker.
package blzext

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jetsetilly/ncpatcher/internal/buildexec"
	"github.com/jetsetilly/ncpatcher/internal/crunched"
	"github.com/jetsetilly/ncpatcher/internal/curated"
)

// Decoder returns a crunched.Decoder that shells out to tool (a "blz"-style
// decompressor accepting "-d <file>") for every call. A zero-length tool
// disables external decompression: the returned decoder fails closed,
// appropriate for a build where every binary is already known-uncompressed
// (the common case once a ROM has passed through the backup step once).
func Decoder(tool string) crunched.Decoder {
	return func(compressed []byte) ([]byte, error) {
		if tool == "" {
			return nil, curated.Errorf(curated.ExternalToolFailure, "blz", "no BLZ decompressor configured for a compressed binary")
		}

		dir, err := os.MkdirTemp("", "ncpatcher-blz")
		if err != nil {
			return nil, curated.Errorf(curated.FileUnwritable, dir, err)
		}
		defer os.RemoveAll(dir)

		in := filepath.Join(dir, "in.blz")
		if err := os.WriteFile(in, compressed, 0o644); err != nil {
			return nil, curated.Errorf(curated.FileUnwritable, in, err)
		}

		if _, err := buildexec.Run(context.Background(), dir, tool, []string{"-d", in}); err != nil {
			return nil, err
		}

		out, err := os.ReadFile(in)
		if err != nil {
			return nil, curated.Errorf(curated.FileUnreadable, in, err)
		}
		return out, nil
	}
}
