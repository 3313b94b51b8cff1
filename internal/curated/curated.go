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

// Package curated implements the closed error taxonomy of the patch engine.
// Every fatal condition raised by the engine is wrapped in a curated value
// carrying one of the Errno constants, so that callers can test the kind of
// failure with Is()/Has() without string-matching messages.
package curated

import (
	"fmt"
	"strings"
)

// curated is an implementation of the go language error interface.
type curated struct {
	errno  Errno
	values []interface{}
}

// Errorf creates a new curated error of the given kind. The values are
// formatted into the Errno's message pattern the same way fmt.Errorf formats
// its arguments.
func Errorf(errno Errno, values ...interface{}) error {
	return curated{
		errno:  errno,
		values: values,
	}
}

// Error returns the normalised error message. Normalisation being the removal
// of duplicate adjacent error message parts in the error message chain. It
// doesn't affect letter-case or white space.
//
// Implements the go language error interface.
func (er curated) Error() string {
	s := fmt.Errorf(er.errno.pattern(), er.values...).Error()

	// de-duplicate error message parts
	p := strings.SplitN(s, ": ", 3)
	if len(p) > 1 && p[0] == p[1] {
		return strings.Join(p[1:], ": ")
	}

	return strings.Join(p, ": ")
}

// Kind returns the error's kind, or ok=false if err is not a curated error.
func Kind(err error) (Errno, bool) {
	if err == nil {
		return 0, false
	}
	if er, ok := err.(curated); ok {
		return er.errno, true
	}
	return 0, false
}

// IsAny checks if the error is a curated error.
func IsAny(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(curated)
	return ok
}

// Is checks if error is a curated error of the given kind.
func Is(err error, errno Errno) bool {
	if err == nil {
		return false
	}
	if er, ok := err.(curated); ok {
		return er.errno == errno
	}
	return false
}

// Has checks if error is a curated error of the given kind somewhere in the
// chain of wrapped values.
func Has(err error, errno Errno) bool {
	if err == nil {
		return false
	}
	if !IsAny(err) {
		return false
	}
	if Is(err, errno) {
		return true
	}
	for _, v := range err.(curated).values {
		if e, ok := v.(curated); ok {
			if Has(e, errno) {
				return true
			}
		}
	}
	return false
}
