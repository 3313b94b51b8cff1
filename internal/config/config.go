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

// Package config reads the build configuration file. It is plain JSON; the
// only thing layered on top of encoding/json is a "${name}"/"${env:NAME}"
// variable-expansion pass performed as a second pass over every string field
// after unmarshalling, in the manner of a config-templating pass (the same
// shape go-ethereum and k6's own config loaders use ahead of
// json.Unmarshal).
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jetsetilly/ncpatcher/internal/curated"
)

// Region is one entry of a target's regions array: the source directories
// compiled for a destination, how that destination grows (mode, address,
// maxsize), and the reclaimable byte ranges (overwrites) inside it.
type Region struct {
	Sources    []string `json:"sources"`
	Dest       string   `json:"dest"`
	Mode       string   `json:"mode"`
	Compress   bool     `json:"compress"`
	Address    string   `json:"address"`
	MaxSize    string   `json:"maxsize"`
	Overwrites [][2]string `json:"overwrites"`
}

// Target is the per-CPU ("arm7"/"arm9") build description.
type Target struct {
	Target   string `json:"target"`
	Build    string `json:"build"`
	WorkDir  string `json:"workdir"`
	ArenaLo  string `json:"arenaLo"`
	Symbols  string `json:"symbols"`
	Includes []string `json:"includes"`
	CFlags   string `json:"c_flags"`
	CppFlags string `json:"cpp_flags"`
	AsmFlags string `json:"asm_flags"`
	LdFlags  string `json:"ld_flags"`
	Regions  []Region `json:"regions"`
}

// Root is the top-level configuration document.
type Root struct {
	Backup     string   `json:"backup"`
	Filesystem string   `json:"filesystem"`
	Toolchain  string   `json:"toolchain"`
	Blz        string   `json:"blz"`
	Arm7       *Target  `json:"arm7"`
	Arm9       *Target  `json:"arm9"`
	PreBuild   []string `json:"pre-build"`
	PostBuild  []string `json:"post-build"`
	ThreadCount int      `json:"thread-count"`

	// vars holds the local "$name" members consulted by "${name}"
	// expansions. it is populated from every top-level string/number field,
	// including those also claimed by the struct above, via a second,
	// permissive unmarshal into a map.
	vars map[string]string
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Root, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, curated.Errorf(curated.FileNotFound, path)
		}
		return nil, curated.Errorf(curated.FileUnreadable, path, err)
	}

	var root Root
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, curated.Errorf(curated.InvalidConfiguration, err)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(data, &raw)
	root.vars = make(map[string]string)
	for k, v := range raw {
		switch vv := v.(type) {
		case string:
			root.vars[k] = vv
		case float64:
			root.vars[k] = fmt.Sprintf("%v", vv)
		}
	}

	if err := root.expand(); err != nil {
		return nil, err
	}

	if root.Arm7 == nil && root.Arm9 == nil {
		return nil, curated.Errorf(curated.InvalidConfiguration, "no targets configured: at least one of arm7/arm9 must be present")
	}

	return &root, nil
}

// expand runs the "${name}"/"${env:NAME}" substitution pass over every
// string field that may legitimately contain a variable reference.
func (r *Root) expand() error {
	var err error
	expandField := func(s string) string {
		if err != nil {
			return s
		}
		var e error
		s, e = Expand(s, r.vars)
		if e != nil {
			err = e
		}
		return s
	}

	r.Backup = expandField(r.Backup)
	r.Filesystem = expandField(r.Filesystem)
	r.Toolchain = expandField(r.Toolchain)
	r.Blz = expandField(r.Blz)
	for _, t := range []*Target{r.Arm7, r.Arm9} {
		if t == nil {
			continue
		}
		t.expandWith(expandField)
	}
	for i := range r.PreBuild {
		r.PreBuild[i] = expandField(r.PreBuild[i])
	}
	for i := range r.PostBuild {
		r.PostBuild[i] = expandField(r.PostBuild[i])
	}
	return err
}

// expandWith runs expandField over every string field of a Target that may
// legitimately contain a variable reference.
func (t *Target) expandWith(expandField func(string) string) {
	t.Target = expandField(t.Target)
	t.Build = expandField(t.Build)
	t.WorkDir = expandField(t.WorkDir)
	t.ArenaLo = expandField(t.ArenaLo)
	t.Symbols = expandField(t.Symbols)
	t.CFlags = expandField(t.CFlags)
	t.CppFlags = expandField(t.CppFlags)
	t.AsmFlags = expandField(t.AsmFlags)
	t.LdFlags = expandField(t.LdFlags)
	for i := range t.Includes {
		t.Includes[i] = expandField(t.Includes[i])
	}
	for ri := range t.Regions {
		reg := &t.Regions[ri]
		reg.Dest = expandField(reg.Dest)
		reg.Address = expandField(reg.Address)
		reg.MaxSize = expandField(reg.MaxSize)
		for si := range reg.Sources {
			reg.Sources[si] = expandField(reg.Sources[si])
		}
	}
}

// LoadTarget reads a per-CPU target description file (the file the root
// configuration's arm7/arm9 "target" key points at): arenaLo, symbols,
// includes, the per-language flag strings and the regions array. It gets
// the same "${name}"/"${env:NAME}" expansion pass as the root document,
// against its own top-level members.
func LoadTarget(path string) (*Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, curated.Errorf(curated.FileNotFound, path)
		}
		return nil, curated.Errorf(curated.FileUnreadable, path, err)
	}

	var t Target
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, curated.Errorf(curated.InvalidConfiguration, err)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(data, &raw)
	vars := make(map[string]string)
	for k, v := range raw {
		switch vv := v.(type) {
		case string:
			vars[k] = vv
		case float64:
			vars[k] = fmt.Sprintf("%v", vv)
		}
	}

	var expandErr error
	t.expandWith(func(s string) string {
		if expandErr != nil {
			return s
		}
		out, e := Expand(s, vars)
		if e != nil {
			expandErr = e
		}
		return out
	})
	if expandErr != nil {
		return nil, expandErr
	}

	return &t, nil
}
