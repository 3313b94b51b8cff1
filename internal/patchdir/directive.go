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

package patchdir

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jetsetilly/ncpatcher/internal/curated"
)

// Op is the canonical patch operation, after the thumb/set modifiers have
// been stripped out into their own flags.
type Op int

const (
	Jump Op = iota
	Call
	Hook
	Over
	RtRepl
	// Dest is recognised but never acted on: object files in the wild
	// already carry ncp_dest markers, so the name is reserved rather than
	// rejected, without inventing semantics for it.
	Dest
)

func (o Op) String() string {
	switch o {
	case Jump:
		return "jump"
	case Call:
		return "call"
	case Hook:
		return "hook"
	case Over:
		return "over"
	case RtRepl:
		return "rtrepl"
	case Dest:
		return "dest"
	}
	return "unknown"
}

// Origin is where a directive's name was found.
type Origin int

const (
	OriginSection Origin = iota
	OriginSymbol
	OriginSymver
)

// directive is the parsed form of a directive name, before any symbol
// resolution.
type directive struct {
	op         Op
	addr       uint32
	overlay    int // -1 means the main ARM binary
	isNcpSet   bool
	destThumb  bool
}

var (
	reSection = regexp.MustCompile(`^\.ncp_([a-z]+)_(0x[0-9a-fA-F]+|[0-9]+)(?:_ov([0-9]+))?$`)
	reSymbol  = regexp.MustCompile(`^ncp_([a-z]+)_(0x[0-9a-fA-F]+|[0-9]+)(?:_ov([0-9]+))?$`)
	reSymver  = regexp.MustCompile(`^__ncp_([a-z]+)_(0x[0-9a-fA-F]+|[0-9]+)(?:_ov([0-9]+))?_.+$`)
)

var baseOps = map[string]Op{
	"jump":   Jump,
	"call":   Call,
	"hook":   Hook,
	"over":   Over,
	"rtrepl": RtRepl,
	"dest":   Dest,
}

// parseOpToken splits a raw op token (e.g. "settjump", "tcall", "over") into
// its canonical Op plus the is_ncp_set / destination-THUMB flags.
func parseOpToken(tok string) (Op, bool, bool, bool) {
	isSet := strings.HasPrefix(tok, "set")
	if isSet {
		tok = tok[3:]
	}
	destThumb := false
	if strings.HasPrefix(tok, "t") {
		if op, ok := baseOps[tok[1:]]; ok {
			return op, isSet, true, true
		}
	}
	if op, ok := baseOps[tok]; ok {
		return op, isSet, destThumb, true
	}
	return 0, false, false, false
}

// parseAddr parses a hex ("0x...") or decimal address token.
func parseAddr(tok string) (uint32, bool) {
	v, err := strconv.ParseUint(tok, 0, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// parseDirectiveName recognizes any of the three directive forms in name,
// returning the parsed directive and which form matched. ok is false if name
// is not a directive at all (the common case - most symbols and sections in
// an object file carry no directive).
func parseDirectiveName(name string) (directive, Origin, bool) {
	var m []string
	var origin Origin

	switch {
	case reSection.MatchString(name):
		m = reSection.FindStringSubmatch(name)
		origin = OriginSection
	case reSymver.MatchString(name):
		m = reSymver.FindStringSubmatch(name)
		origin = OriginSymver
	case reSymbol.MatchString(name):
		m = reSymbol.FindStringSubmatch(name)
		origin = OriginSymbol
	default:
		return directive{}, 0, false
	}

	op, isSet, destThumb, ok := parseOpToken(m[1])
	if !ok {
		return directive{}, 0, false
	}
	addr, ok := parseAddr(m[2])
	if !ok {
		return directive{}, 0, false
	}
	overlay := -1
	if m[3] != "" {
		ov, err := strconv.Atoi(m[3])
		if err != nil {
			return directive{}, 0, false
		}
		overlay = ov
	}

	return directive{op: op, addr: addr, overlay: overlay, isNcpSet: isSet, destThumb: destThumb}, origin, true
}

// invalidDirective wraps msg as an InvalidDirective curated error naming name.
func invalidDirective(name string, msg string) error {
	return curated.Errorf(curated.InvalidDirective, name, msg)
}

// SectionDestination reports the destination tag a directive-named
// overwrite-candidate section carries in its own name (e.g. the `ov3` in
// `.ncp_hook_0x02001234_ov3`). ok is false for a section name that is not
// a section-form directive, and for an `ncp_dest` marker - an ordinary `.text`/`.rodata`/`.init_array`/`.data`/`.bss` candidate has no
// destination of its own and takes the destination of the region that
// compiled it instead.
func SectionDestination(name string) (dest int, ok bool) {
	d, origin, ok := parseDirectiveName(name)
	if !ok || origin != OriginSection || d.op == Dest {
		return 0, false
	}
	return d.overlay, true
}
