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

// Package appctx carries process-wide build state as an explicit value
// threaded through the pipeline, rather than as package-level globals:
// verbose tags, defines, and a scoped stack of "what is currently happening"
// descriptions used to annotate fatal errors on the way out.
package appctx

import (
	"strings"

	"github.com/jetsetilly/ncpatcher/internal/logger"
)

// Context is the single value passed by pointer through every stage of the
// patch pipeline. Nothing in this module should reach for a package-level
// global where a Context field would do.
type Context struct {
	// Log is the tagged logger behind -v/--verbose-tag.
	Log *logger.Logger

	// Defines is the accumulated --define list, in command-line order. It
	// both feeds the rebuild cache fingerprint and is forwarded to the
	// compiler driver invocation.
	Defines []string

	// errContext is a stack of human-readable descriptions of the operation
	// currently in progress, pushed by PushContext and popped by the
	// returned release function. The top level prints this stack, most
	// recently pushed first, above a fatal error.
	errContext []string
}

// New creates a Context with logging disabled and no defines.
func New() *Context {
	return &Context{Log: logger.NewLogger(512)}
}

// PushContext records that the caller is about to perform the named
// operation, and returns a function that must be called (typically via
// defer) to pop it again. Every coarse stage of the pipeline -
// configuration load, per-target processing, pre/post build commands -
// wraps its body in this so that a fatal error deep in a later stage is
// reported together with the stage that was running.
func (c *Context) PushContext(description string) (release func()) {
	c.errContext = append(c.errContext, description)
	depth := len(c.errContext)
	return func() {
		// guard against mismatched push/release pairs: only pop if we are
		// still at the depth we were pushed to.
		if len(c.errContext) == depth {
			c.errContext = c.errContext[:depth-1]
		}
	}
}

// ErrorContext returns the current stack of in-progress operation
// descriptions, most recently pushed first.
func (c *Context) ErrorContext() []string {
	out := make([]string, len(c.errContext))
	for i, s := range c.errContext {
		out[len(out)-1-i] = s
	}
	return out
}

// FormatErrorContext renders the current error context stack as indented
// lines, suitable for printing above a fatal error message.
func (c *Context) FormatErrorContext() string {
	ctx := c.ErrorContext()
	if len(ctx) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range ctx {
		b.WriteString(strings.Repeat("  ", i))
		b.WriteString(s)
		b.WriteString("\n")
	}
	return b.String()
}

// HasDefine reports whether name is present in Defines.
func (c *Context) HasDefine(name string) bool {
	for _, d := range c.Defines {
		if d == name {
			return true
		}
	}
	return false
}
