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

// Package unitreg owns every compilation unit participating in a build: the
// user's own object files and the library objects pulled in from archives.
// It is the single place that keeps a unit's parsed ELF view alive across
// every later pass, so nothing downstream ever reloads or reparses an
// object from disk.
package unitreg

import (
	"os"

	"github.com/jetsetilly/ncpatcher/internal/arfile"
	"github.com/jetsetilly/ncpatcher/internal/curated"
	"github.com/jetsetilly/ncpatcher/internal/elfview"
)

// Origin distinguishes a unit compiled directly for this build from one
// pulled in from a static library.
type Origin int

const (
	OriginUser Origin = iota
	OriginLibrary
)

// Unit is one ELF relocatable object participating in the build, together
// with the ELF view the registry parsed once and will never reparse.
type Unit struct {
	ID     int
	Path   string
	Origin Origin

	// ArchivePath is set when Origin is OriginLibrary: the .a file this
	// unit's bytes were extracted from.
	ArchivePath string
	// MemberName is the ar member name within ArchivePath.
	MemberName string

	ELF *elfview.File

	// RegionDest is the destination tag of the configuration region this
	// unit's sources (or, for a library unit, the archive that pulled it
	// in) were declared under: -1 for the main ARM binary, else an overlay
	// id. It is assigned by the pipeline once the unit is created, and is
	// what gives an ordinary (non-directive) overwrite-candidate section
	// its destination - a `.ncp_jump`-style section instead carries its own
	// destination in its name, independent of which region compiled it.
	RegionDest int
}

// Registry owns every Unit created for the current build and maintains
// parallel index lists for the common "only user units" / "only library
// units" iterations.
type Registry struct {
	units   []*Unit
	user    []*Unit
	library []*Unit
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// AddUserObject loads and parses the object file at path and registers it as
// a user unit. It returns a stable pointer to the created Unit.
func (r *Registry) AddUserObject(path string) (*Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, curated.Errorf(curated.FileNotFound, path)
	}
	f, err := elfview.Open(data, path)
	if err != nil {
		return nil, err
	}
	u := &Unit{ID: len(r.units), Path: path, Origin: OriginUser, ELF: f}
	r.units = append(r.units, u)
	r.user = append(r.user, u)
	return u, nil
}

// AddLibrary parses the ar archive at path and registers every member that
// is itself a valid ELF object as a library unit.
func (r *Registry) AddLibrary(path string) ([]*Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, curated.Errorf(curated.FileNotFound, path)
	}
	ar, err := arfile.Open(data, path)
	if err != nil {
		return nil, err
	}

	var added []*Unit
	for _, m := range ar.Members {
		f, err := elfview.Open(m.Data, path+"("+m.Name+")")
		if err != nil {
			// non-ELF archive members (build metadata, etc) are skipped
			// rather than treated as fatal, matching how a real linker
			// tolerates stray members in a .a file.
			continue
		}
		u := &Unit{
			ID:          len(r.units),
			Path:        path + "(" + m.Name + ")",
			Origin:      OriginLibrary,
			ArchivePath: path,
			MemberName:  m.Name,
			ELF:         f,
		}
		r.units = append(r.units, u)
		r.library = append(r.library, u)
		added = append(added, u)
	}
	return added, nil
}

// AddParsed registers a unit whose ELF view was already parsed elsewhere -
// used by the rebuild cache to re-admit a unit without rereading or
// reparsing its object file. The unit's ID and registry membership are
// assigned here; callers should leave u.ID at its zero value.
func (r *Registry) AddParsed(u *Unit) *Unit {
	u.ID = len(r.units)
	r.units = append(r.units, u)
	switch u.Origin {
	case OriginLibrary:
		r.library = append(r.library, u)
	default:
		r.user = append(r.user, u)
	}
	return u
}

// All returns every registered unit, user and library alike, in
// registration order.
func (r *Registry) All() []*Unit { return r.units }

// UserUnits returns only the units that were compiled directly for this
// build.
func (r *Registry) UserUnits() []*Unit { return r.user }

// LibraryUnits returns only the units pulled in from an archive.
func (r *Registry) LibraryUnits() []*Unit { return r.library }

// ByID returns the unit with the given stable ID.
func (r *Registry) ByID(id int) (*Unit, bool) {
	if id < 0 || id >= len(r.units) {
		return nil, false
	}
	return r.units[id], true
}
