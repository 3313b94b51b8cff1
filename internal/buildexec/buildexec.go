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

// Package buildexec invokes the external collaborators this module never
// implements itself: the compiler driver (in linker mode, to synthesise
// and link against the patch linker script) and the pre-build/post-build
// shell commands named in the configuration. Every non-zero exit is
// reported as curated.ExternalToolFailure carrying the tool's combined
// output, the same shape the rest of this module uses for every other
// fatal condition.
package buildexec

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/jetsetilly/ncpatcher/internal/curated"
)

// Run executes name with args in workdir, returning ExternalToolFailure
// (wrapping the combined stdout/stderr) on a non-zero exit.
func Run(ctx context.Context, workdir, name string, args []string) (output string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workdir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return buf.String(), curated.Errorf(curated.ExternalToolFailure, name, buf.String())
	}
	return buf.String(), nil
}

// LinkArgs builds the argument list for invoking the toolchain's compiler
// driver in linker mode: -nostartfiles plus --gc-sections and the
// synthesised linker script, followed by the target's own ld_flags.
func LinkArgs(scriptPath string, extraLdFlags []string) []string {
	args := []string{
		"-nostartfiles",
		"-Wl,--gc-sections,-T" + scriptPath,
	}
	return append(args, extraLdFlags...)
}

// Shell runs a single pre-build/post-build command string through the
// platform shell, in workdir.
func Shell(ctx context.Context, workdir, command string) (output string, err error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workdir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return buf.String(), curated.Errorf(curated.ExternalToolFailure, command, buf.String())
	}
	return buf.String(), nil
}
