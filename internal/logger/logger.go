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

// Package logger implements the tagged logger behind -v/--verbose-tag. It
// keeps a bounded ring of recent entries so that a fatal error can be
// reported together with the last few lines of context, and it gates each
// entry by tag so only the channels the user asked for are ever written
// out.
package logger

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Tag names recognised by --verbose-tag.
const (
	TagBuild    = "build"
	TagSection  = "section"
	TagELF      = "elf"
	TagPatch    = "patch"
	TagLibrary  = "library"
	TagLinking  = "linking"
	TagSymbols  = "symbols"
	TagNoLib    = "nolib"
	TagAll      = "all"
)

// AllTags lists every recognised verbose channel, for validation and help text.
var AllTags = []string{TagBuild, TagSection, TagELF, TagPatch, TagLibrary, TagLinking, TagSymbols, TagNoLib, TagAll}

type entry struct {
	tag    string
	detail string
}

func (e entry) String() string {
	return fmt.Sprintf("%s: %s\n", e.tag, e.detail)
}

// Logger is an instance of the tagged, ring-buffered logger. The zero value
// logs nothing and keeps nothing, so a nil *Logger is always safe to call.
type Logger struct {
	mu      sync.Mutex
	entries []entry
	limit   int

	// allowed is the set of tags that are permitted to be logged. an empty
	// set means nothing is logged (the default, quiet build). the special
	// tag "all" in the set permits every tag.
	allowed map[string]bool
}

// NewLogger creates a Logger that keeps at most limit entries.
func NewLogger(limit int) *Logger {
	if limit <= 0 {
		limit = 1
	}
	return &Logger{limit: limit, allowed: make(map[string]bool)}
}

// Allow enables logging for the given tag. Passing TagAll enables every tag.
func (l *Logger) Allow(tag string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowed[tag] = true
}

// AllowAll enables every verbose channel, as -v/--verbose does.
func (l *Logger) AllowAll() {
	l.Allow(TagAll)
}

// Allowed reports whether the given tag is currently permitted to log.
func (l *Logger) Allowed(tag string) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowed[TagAll] || l.allowed[tag]
}

func detailString(detail interface{}) string {
	switch d := detail.(type) {
	case error:
		return d.Error()
	case fmt.Stringer:
		return d.String()
	case string:
		return d
	default:
		return fmt.Sprintf("%v", d)
	}
}

// Log records an entry under the given tag if that tag is currently allowed.
// detail may be a string, an error, or anything implementing fmt.Stringer;
// anything else is formatted with %v.
func (l *Logger) Log(tag string, detail interface{}) {
	if l == nil || !l.Allowed(tag) {
		return
	}
	l.append(tag, detailString(detail))
}

// Logf is like Log but formats detail with the given pattern, in the manner
// of fmt.Sprintf.
func (l *Logger) Logf(tag string, pattern string, args ...interface{}) {
	if l == nil || !l.Allowed(tag) {
		return
	}
	l.append(tag, fmt.Sprintf(pattern, args...))
}

func (l *Logger) append(tag, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry{tag: tag, detail: detail})
	if len(l.entries) > l.limit {
		l.entries = l.entries[len(l.entries)-l.limit:]
	}
}

// Clear discards every entry recorded so far.
func (l *Logger) Clear() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

// Write writes every recorded entry to w, oldest first.
func (l *Logger) Write(w io.Writer) {
	l.Tail(w, -1)
}

// Tail writes the most recent n entries to w, oldest first. A negative n
// means "all of them".
func (l *Logger) Tail(w io.Writer, n int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	entries := make([]entry, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	if n >= 0 && n < len(entries) {
		entries = entries[len(entries)-n:]
	}

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.String())
	}
	io.WriteString(w, b.String())
}
