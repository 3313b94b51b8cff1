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

package config

import (
	"os"
	"strings"

	"github.com/jetsetilly/ncpatcher/internal/curated"
)

// Expand substitutes every "${name}" and "${env:NAME}" reference in s.
// "${name}" is resolved against vars (the config document's own top-level
// members); "${env:NAME}" is resolved against the process environment. A
// reference to an undefined variable is fatal.
func Expand(s string, vars map[string]string) (string, error) {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start == -1 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}")
		if end == -1 {
			b.WriteString(s)
			break
		}
		end += start

		b.WriteString(s[:start])
		name := s[start+2 : end]

		val, err := resolveVar(name, vars)
		if err != nil {
			return "", err
		}
		b.WriteString(val)

		s = s[end+1:]
	}
	return b.String(), nil
}

func resolveVar(name string, vars map[string]string) (string, error) {
	if rest, ok := cutPrefix(name, "env:"); ok {
		val, ok := os.LookupEnv(rest)
		if !ok {
			return "", curated.Errorf(curated.InvalidConfiguration, "unknown environment variable referenced in configuration: "+rest)
		}
		return val, nil
	}

	val, ok := vars[name]
	if !ok {
		return "", curated.Errorf(curated.InvalidConfiguration, "unknown variable referenced in configuration: "+name)
	}
	return val, nil
}

func cutPrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
