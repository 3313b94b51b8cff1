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

// Package linkscript synthesises the linker script that realises the
// allocation plan computed by internal/overwrite and internal/depresolve,
// invokes the external linker through internal/buildexec, and hands the
// relinked ELF back to internal/finalize.
package linkscript

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jetsetilly/ncpatcher/internal/buildexec"
	"github.com/jetsetilly/ncpatcher/internal/curated"
	"github.com/jetsetilly/ncpatcher/internal/elfview"
	"github.com/jetsetilly/ncpatcher/internal/overwrite"
)

// PatchLabel is one patch section assigned a MEMORY placement, named after
// its symbol with the leading dot stripped.
type PatchLabel struct {
	Label     string
	Size      uint32
	Alignment uint32
}

// OverPatch is a `.ncp_over_*` patch: its own MEMORY region, anchored at
// its destination address.
type OverPatch struct {
	Label   string
	Address uint32
	Size    uint32
}

// NcpSetRegion is a dedicated 4-byte MEMORY region for one ncp_set section.
type NcpSetRegion struct {
	Label   string
	Address uint32
}

// RtReplBlob names one runtime-replacement blob, whose <name>_start and
// <name>_end symbols the linker must emit around it.
type RtReplBlob struct {
	Label string
}

// Destination is one code container (main ARM, tag -1, or an overlay)
// participating in the link. Address is where the newcode block will
// actually live once spliced into the autoload list or appended to an
// overlay (for the main binary, the heap-top value stored at the target's
// arenaLo word, located through internal/arenalo when arenaLo is not
// configured; ram_address + ram_size + bss_size for an append-mode overlay)
// - it has to be known before the
// link, not after, since the compiled code's own absolute branches and
// the autogen-data bridge table are only correct if the linker places
// the block at its real final address.
type Destination struct {
	Tag          int // -1 for main ARM
	Address      uint32
	Patches      []PatchLabel
	RtRepl       []RtReplBlob
	AutogenLabel string // e.g. "ncp_autogendata" or "ncp_autogendata_ov3"
	AutogenSize  uint32

	// Objects is the set of user object file paths compiled from this
	// destination's own configuration regions. Their ordinary code/data
	// sections are claimed by object-qualified wildcards rather than a
	// bare `*(.text*)`, so a link with more than one Destination doesn't
	// have its first-declared output section silently swallow every
	// other destination's sections too.
	Objects []string
}

// MemName returns the linker-script section/output name for this
// destination's ordinary code block: "arm" for the main binary, "ovNN" for
// an overlay.
func (d Destination) MemName() string {
	if d.Tag < 0 {
		return "arm"
	}
	return fmt.Sprintf("ov%d", d.Tag)
}

// Plan is everything the synthesiser needs to emit a complete script.
type Plan struct {
	Objects      []string // user object file paths
	Archives     []string // archive (.a) paths
	Regions      []overwrite.Region
	Destinations []Destination
	OverPatches  []OverPatch
	NcpSets      []NcpSetRegion
	ExternSyms   []string
}

const binLen = 0x100000

// Synthesize renders the full linker script text for plan.
func Synthesize(plan Plan) string {
	var b strings.Builder

	b.WriteString("MEMORY\n{\n")
	fmt.Fprintf(&b, "\tbin (rx) : ORIGIN = 0x0, LENGTH = %#x\n", binLen)
	for _, r := range plan.Regions {
		fmt.Fprintf(&b, "\t%s (rwx) : ORIGIN = %#x, LENGTH = %#x\n", r.MemName, r.Start, r.End-r.Start)
	}
	for _, d := range plan.Destinations {
		fmt.Fprintf(&b, "\t%s (rwx) : ORIGIN = %#x, LENGTH = %#x\n", d.MemName(), d.Address, binLen)
	}
	for _, s := range plan.NcpSets {
		fmt.Fprintf(&b, "\tmem_%s (rw) : ORIGIN = %#x, LENGTH = 0x4\n", sanitizeLabel(s.Label), s.Address)
	}
	for _, o := range plan.OverPatches {
		fmt.Fprintf(&b, "\tmem_%s (rwx) : ORIGIN = %#x, LENGTH = %#x\n", sanitizeLabel(o.Label), o.Address, o.Size)
	}
	b.WriteString("}\n\n")

	b.WriteString("INPUT (\n")
	for _, o := range plan.Objects {
		fmt.Fprintf(&b, "\t%q\n", o)
	}
	for _, a := range plan.Archives {
		fmt.Fprintf(&b, "\t%q\n", a)
	}
	b.WriteString(")\n\n")

	b.WriteString("SECTIONS\n{\n")

	for _, r := range plan.Regions {
		fmt.Fprintf(&b, "\t.%s : ALIGN(4)\n\t{\n", r.MemName)
		for _, pl := range r.Assigned {
			label := strings.TrimPrefix(pl.Section.Name, ".")
			fmt.Fprintf(&b, "\t\t%s = .;\n\t\tKEEP(*(%s))\n", sanitizeLabel(label), pl.Section.Name)
		}
		fmt.Fprintf(&b, "\t} > %s\n\n", r.MemName)
	}

	for di, d := range plan.Destinations {
		mem := d.MemName()
		fmt.Fprintf(&b, "\t.%s :\n\t{\n", mem)

		patches := append([]PatchLabel(nil), d.Patches...)
		sort.SliceStable(patches, func(i, j int) bool { return patches[i].Alignment > patches[j].Alignment })
		for _, p := range patches {
			// the symbol name must exactly equal p.Label with its leading
			// dot stripped: internal/finalize resolves a patch's source
			// address by symbol name, falling back to that same trim when
			// the directive's own section name isn't defined as a symbol.
			fmt.Fprintf(&b, "\t\t%s = .;\n\t\tKEEP(*(%s))\n", strings.TrimPrefix(p.Label, "."), p.Label)
		}
		for _, rt := range d.RtRepl {
			fmt.Fprintf(&b, "\t\t%s_start = .;\n\t\tKEEP(*(%s))\n\t\t%s_end = .;\n", sanitizeLabel(rt.Label), rt.Label, sanitizeLabel(rt.Label))
		}
		for _, obj := range d.Objects {
			fmt.Fprintf(&b, "\t\t%q(.text* .rodata* .init_array* .data*)\n", obj)
		}
		if di == 0 {
			// the archive members pulled in by any destination's references
			// have no region of their own to be scoped to; they fall
			// through to whichever destination links first, which is the
			// main ARM binary whenever one participates in the build.
			b.WriteString("\t\t*(.text* .rodata* .init_array* .data*)\n")
		}
		if d.AutogenLabel != "" {
			fmt.Fprintf(&b, "\t\t%s = .;\n\t\t. += %#x;\n", d.AutogenLabel, d.AutogenSize)
		}
		fmt.Fprintf(&b, "\t} > %s\n\n", mem)

		fmt.Fprintf(&b, "\t.%s.bss (NOLOAD) :\n\t{\n\t\t*(.bss*)\n\t} > %s\n\n", mem, mem)
	}

	// the output section itself keeps the original directive name (dot and
	// all): internal/finalize looks up an `over` patch's linked address by
	// exact section name, so the rename can only happen on the MEMORY
	// region side.
	for _, o := range plan.OverPatches {
		fmt.Fprintf(&b, "\t%s :\n\t{\n\t\tKEEP(*(%s))\n\t} > mem_%s\n\n", o.Label, o.Label, sanitizeLabel(o.Label))
	}
	for _, s := range plan.NcpSets {
		fmt.Fprintf(&b, "\t%s :\n\t{\n\t\tKEEP(*(%s))\n\t} > mem_%s\n\n", s.Label, s.Label, sanitizeLabel(s.Label))
	}

	b.WriteString("\t/DISCARD/ : { *(.*) }\n")
	b.WriteString("}\n\n")

	if len(plan.ExternSyms) > 0 {
		b.WriteString("EXTERN(")
		b.WriteString(strings.Join(plan.ExternSyms, " "))
		b.WriteString(")\n")
	}

	return b.String()
}

func sanitizeLabel(s string) string {
	return strings.NewReplacer(".", "_", "@", "_").Replace(s)
}

// Write renders plan and writes it to scriptPath.
func Write(plan Plan, scriptPath string) error {
	if err := os.WriteFile(scriptPath, []byte(Synthesize(plan)), 0o644); err != nil {
		return curated.Errorf(curated.FileUnwritable, scriptPath, err)
	}
	return nil
}

// Link invokes the toolchain's compiler driver in linker mode against
// scriptPath, producing outPath, then reloads and returns the resulting
// ELF. compilerDriver is the "<toolchain-prefix>gcc"-style path; ldFlags
// are the target's own configured flags, appended after the fixed
// gc-sections/script arguments.
func Link(ctx context.Context, compilerDriver, workdir, scriptPath, outPath string, ldFlags []string) (*elfview.File, error) {
	args := append(buildexec.LinkArgs(scriptPath, ldFlags), "-o", outPath)
	if _, err := buildexec.Run(ctx, workdir, compilerDriver, args); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, curated.Errorf(curated.FileNotFound, outPath)
	}
	return elfview.Open(data, outPath)
}
