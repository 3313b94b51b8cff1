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

// Package cliflags implements the command-line surface of the ncpatcher
// binary: a flag.FlagSet-plus-help wrapper with no sub-mode machinery, since
// this tool has exactly one mode.
package cliflags

import (
	"flag"
	"fmt"
	"io"
)

// ParseResult is the outcome of Parse().
type ParseResult int

const (
	// ParseContinue means flags were parsed successfully and the caller
	// should proceed with the remaining arguments.
	ParseContinue ParseResult = iota

	// ParseHelp means -h/--help was given; help text has already been
	// written to Output and the process should exit 0.
	ParseHelp
)

// Flags wraps a flag.FlagSet with -h/--help handling.
type Flags struct {
	Output io.Writer

	set  *flag.FlagSet
	args []string
}

// NewArgs sets the argument list to be parsed, excluding the program name.
func (f *Flags) NewArgs(args []string) {
	f.args = args
	f.set = flag.NewFlagSet("ncpatcher", flag.ContinueOnError)
	f.set.SetOutput(f.Output)
	f.set.Usage = func() {
		fmt.Fprintln(f.Output, "Usage: ncpatcher [options]")
		f.set.PrintDefaults()
	}
}

// Bool registers a boolean flag under both a short and long name, mirroring
// the -h/--help, -v/--verbose pairing.
func (f *Flags) Bool(short, long string, value bool, usage string) *bool {
	p := new(bool)
	f.set.BoolVar(p, short, value, usage)
	if long != "" {
		f.set.BoolVar(p, long, value, usage)
	}
	return p
}

// String registers a string flag under both a short and long name, mirroring
// Bool's short/long pairing. An empty short name registers only the long
// form (used for flags with no natural single-letter abbreviation).
func (f *Flags) String(short, long string, value string, usage string) *string {
	p := new(string)
	if short != "" {
		f.set.StringVar(p, short, value, usage)
	}
	if long != "" {
		f.set.StringVar(p, long, value, usage)
	}
	return p
}

// RepeatableString registers a flag that may be given multiple times,
// accumulating into a slice (used for --verbose-tag and --define).
type RepeatableString struct {
	values []string
}

func (r *RepeatableString) String() string {
	return fmt.Sprint(r.values)
}

func (r *RepeatableString) Set(v string) error {
	r.values = append(r.values, v)
	return nil
}

// Values returns everything accumulated so far.
func (r *RepeatableString) Values() []string {
	return r.values
}

// Var registers a RepeatableString under the given name.
func (f *Flags) Var(name string, usage string) *RepeatableString {
	r := &RepeatableString{}
	f.set.Var(r, name, usage)
	return r
}

// Parse parses the argument list set by NewArgs. Help is requested with
// -h/--help/-help.
func (f *Flags) Parse() (ParseResult, error) {
	err := f.set.Parse(f.args)
	if err == flag.ErrHelp {
		return ParseHelp, nil
	}
	if err != nil {
		return ParseContinue, err
	}
	// once h/help are registered as ordinary flags the flag package no
	// longer reports ErrHelp for them, so check their values here
	for _, name := range []string{"h", "help"} {
		if fl := f.set.Lookup(name); fl != nil && fl.Value.String() == "true" {
			f.set.Usage()
			return ParseHelp, nil
		}
	}
	return ParseContinue, nil
}

// RemainingArgs returns the arguments left after flag parsing.
func (f *Flags) RemainingArgs() []string {
	return f.set.Args()
}
