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

// Command ncpatcher builds patch objects against the handheld's compiled
// ROM and splices the result into the main ARM binaries and overlays. It
// has exactly one mode of operation, so its flag surface is a plain
// cliflags.Flags rather than anything sub-moded.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jetsetilly/ncpatcher/internal/appctx"
	"github.com/jetsetilly/ncpatcher/internal/buildexec"
	"github.com/jetsetilly/ncpatcher/internal/buildstats"
	"github.com/jetsetilly/ncpatcher/internal/cliflags"
	"github.com/jetsetilly/ncpatcher/internal/curated"
	"github.com/jetsetilly/ncpatcher/internal/logger"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var flags cliflags.Flags
	flags.Output = os.Stderr
	flags.NewArgs(args)

	verbose := flags.Bool("v", "verbose", false, "enable all verbose channels")
	verboseTag := flags.Var("verbose-tag", fmt.Sprintf("enable one verbose channel (repeatable): %s", strings.Join(logger.AllTags, ", ")))
	define := flags.Var("define", "add a preprocessor define (repeatable); participates in the rebuild cache")
	statsAddr := flags.String("", "stats-addr", "", "address to serve the live build dashboard on (e.g. localhost:18066)")
	_ = flags.Bool("h", "help", false, "print this help and exit")

	res, err := flags.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if res == cliflags.ParseHelp {
		return 0
	}

	for _, tag := range verboseTag.Values() {
		if !validVerboseTag(tag) {
			fmt.Fprintf(os.Stderr, "unknown --verbose-tag %q\n", tag)
			return 1
		}
	}

	configPath := "ncpatcher.json"
	if rest := flags.RemainingArgs(); len(rest) > 0 {
		configPath = rest[0]
	}

	ctx := appctx.New()
	if *verbose {
		ctx.Log.AllowAll()
	}
	for _, tag := range verboseTag.Values() {
		ctx.Log.Allow(tag)
	}
	ctx.Defines = define.Values()

	var rec *buildstats.Recorder
	if *statsAddr != "" {
		rec = buildstats.NewRecorder()
		srv, err := buildstats.Start(*statsAddr, rec)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer srv.Stop(context.Background())
	}

	if err := build(ctx, configPath, rec); err != nil {
		reportFatal(ctx, err)
		return 1
	}
	return 0
}

func validVerboseTag(tag string) bool {
	for _, t := range logger.AllTags {
		if t == tag {
			return true
		}
	}
	return false
}

// reportFatal prints the currently in-progress stage descriptions, then
// the error itself, then a tail of recent log entries for additional
// context.
func reportFatal(ctx *appctx.Context, err error) {
	if lines := ctx.FormatErrorContext(); lines != "" {
		fmt.Fprint(os.Stderr, lines)
	}
	if errno, ok := curated.Kind(err); ok {
		fmt.Fprintf(os.Stderr, "%s: %s\n", errno, err)
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	ctx.Log.Tail(os.Stderr, 20)
}

// runShellCommands runs a pre-build or post-build command list in order,
// stopping at the first failure. Each command is wrapped in the same
// error-context discipline as the pipeline stages.
func runShellCommands(ctx context.Context, appCtx *appctx.Context, workdir string, commands []string, stage string) error {
	for _, cmd := range commands {
		release := appCtx.PushContext(fmt.Sprintf("running %s command: %s", stage, cmd))
		_, err := buildexec.Shell(ctx, workdir, cmd)
		if err != nil {
			return err
		}
		release()
	}
	return nil
}
