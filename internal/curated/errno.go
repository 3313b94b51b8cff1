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

package curated

// Errno is a closed taxonomy of the fatal conditions the patch engine can
// raise.
type Errno int

// The closed error taxonomy. Every value here must have a corresponding
// pattern in the switch inside Errno.pattern().
const (
	FileNotFound Errno = iota
	FileUnreadable
	FileUnwritable

	CorruptROMFile

	InvalidConfiguration

	InvalidDirective
	InvalidDestinationMode
	UnresolvedSymver

	OverlappingPatches

	BranchOutOfRange
	UnrelocatableInstruction
	UnsupportedHook
	MissingInterworking

	OverlayTooLarge

	ExternalToolFailure

	RebuildCacheCorrupt

	InvalidStatsAddr
)

// pattern returns the fmt-style message pattern associated with the Errno.
// Values are supplied by the Errorf() call site, same as fmt.Errorf.
func (e Errno) pattern() string {
	switch e {
	case FileNotFound:
		return "file not found: %s"
	case FileUnreadable:
		return "could not read file: %s: %v"
	case FileUnwritable:
		return "could not write file: %s: %v"
	case CorruptROMFile:
		return "corrupt ROM file: %s: %v"
	case InvalidConfiguration:
		return "invalid configuration: %v"
	case InvalidDirective:
		return "invalid patch directive %q: %v"
	case InvalidDestinationMode:
		return "patch %q targets overlay %d which is not in append mode"
	case UnresolvedSymver:
		return "no concrete symbol satisfies versioned directive %q"
	case OverlappingPatches:
		return "overlapping patches: %v and %v"
	case BranchOutOfRange:
		return "branch from %08x to %08x is out of range"
	case UnrelocatableInstruction:
		return "cannot relocate instruction %08x at %08x: %v"
	case UnsupportedHook:
		return "hook at THUMB address %08x is not supported"
	case MissingInterworking:
		return "target architecture %s does not support interworking (BLX)"
	case OverlayTooLarge:
		return "overlay %d exceeds configured maximum size (%d > %d)"
	case ExternalToolFailure:
		return "%s exited with an error:\n%s"
	case RebuildCacheCorrupt:
		return "rebuild cache is corrupt: %v"
	case InvalidStatsAddr:
		return "invalid --stats-addr %q: %v"
	default:
		return "unknown error (%v)"
	}
}

// String gives a short, stable name for the Errno, used in log output.
func (e Errno) String() string {
	switch e {
	case FileNotFound:
		return "FileNotFound"
	case FileUnreadable:
		return "FileUnreadable"
	case FileUnwritable:
		return "FileUnwritable"
	case CorruptROMFile:
		return "CorruptROMFile"
	case InvalidConfiguration:
		return "InvalidConfiguration"
	case InvalidDirective:
		return "InvalidDirective"
	case InvalidDestinationMode:
		return "InvalidDestinationMode"
	case UnresolvedSymver:
		return "UnresolvedSymver"
	case OverlappingPatches:
		return "OverlappingPatches"
	case BranchOutOfRange:
		return "BranchOutOfRange"
	case UnrelocatableInstruction:
		return "UnrelocatableInstruction"
	case UnsupportedHook:
		return "UnsupportedHook"
	case MissingInterworking:
		return "MissingInterworking"
	case OverlayTooLarge:
		return "OverlayTooLarge"
	case ExternalToolFailure:
		return "ExternalToolFailure"
	case RebuildCacheCorrupt:
		return "RebuildCacheCorrupt"
	case InvalidStatsAddr:
		return "InvalidStatsAddr"
	default:
		return "Unknown"
	}
}
