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

// Package arfile gives read-only access to the members of a Unix ar archive
// (a static library, ".a" file) held in memory. It resolves the GNU long-name
// extension (the "//" string table and "/N" offset references) so a caller
// never has to special-case truncated member names.
package arfile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jetsetilly/ncpatcher/internal/curated"
)

const (
	magic       = "!<arch>\n"
	headerSize  = 60
	longNameTab = "//"
)

// Member is one object file stored inside an archive.
type Member struct {
	Name string
	Data []byte
}

// Archive is a parsed view over a Unix ar archive. Like elfview.File it
// retains, rather than copies, the byte slice it was opened from.
type Archive struct {
	Members []Member
}

// Open parses every member header in data and resolves long member names
// against the "//" string table, if present.
func Open(data []byte, path string) (*Archive, error) {
	if len(data) < len(magic) || string(data[:len(magic)]) != magic {
		return nil, curated.Errorf(curated.CorruptROMFile, path, "missing ar archive magic")
	}

	var longNames []byte
	var members []Member

	off := len(magic)
	for off+headerSize <= len(data) {
		hdr := data[off : off+headerSize]
		if string(hdr[58:60]) != "`\n" {
			return nil, curated.Errorf(curated.CorruptROMFile, path, "malformed ar member header")
		}

		rawName := strings.TrimRight(string(hdr[0:16]), " ")
		sizeField := strings.TrimSpace(string(hdr[48:58]))
		size, err := strconv.Atoi(sizeField)
		if err != nil || size < 0 {
			return nil, curated.Errorf(curated.CorruptROMFile, path, "malformed ar member size field")
		}

		dataStart := off + headerSize
		dataEnd := dataStart + size
		if dataEnd > len(data) {
			return nil, curated.Errorf(curated.CorruptROMFile, path, "ar member data runs past end of archive")
		}
		memberData := data[dataStart:dataEnd]

		switch {
		case rawName == longNameTab:
			longNames = memberData

		case rawName == "/" || strings.HasPrefix(rawName, "/ "):
			// symbol lookup table, not an object member

		case strings.HasPrefix(rawName, "/"):
			idx, err := strconv.Atoi(rawName[1:])
			if err != nil {
				return nil, curated.Errorf(curated.CorruptROMFile, path, fmt.Sprintf("malformed long-name reference %q", rawName))
			}
			members = append(members, Member{Name: longName(longNames, idx), Data: memberData})

		default:
			members = append(members, Member{Name: strings.TrimSuffix(rawName, "/"), Data: memberData})
		}

		// members are padded to an even offset
		next := dataEnd
		if (size % 2) != 0 {
			next++
		}
		off = next
	}

	return &Archive{Members: members}, nil
}

// longName extracts the name starting at idx in the "//" string table,
// terminated by the GNU convention of a trailing "/\n".
func longName(table []byte, idx int) string {
	if idx < 0 || idx >= len(table) {
		return ""
	}
	end := idx
	for end < len(table) && table[end] != '\n' {
		end++
	}
	return strings.TrimSuffix(string(table[idx:end]), "/")
}

// Find returns the first member named name, and ok=true if found.
func (a *Archive) Find(name string) (Member, bool) {
	for _, m := range a.Members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}
