// Package main provides the maxdap CLI entrypoint.
//
// maxdap is a debug adapter for Python scripts running inside
// Autodesk 3ds Max. The editor launches `maxdap serve` and speaks the
// debug protocol over the process's stdio; everything else (injecting
// the debugger into the target, dialing the debug endpoint, repairing
// the endpoint's protocol quirks) happens behind that stream.
//
// Usage:
//
//	maxdap <command> [options]
//
// Exit codes for `serve`:
//   - 0: session completed
//   - 1: configuration failure
//   - 2: target application not reachable
//   - 3: session ended on an error
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/maxdap-io/maxdap/cli/cmd"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "maxdap",
		Usage:          "Debug adapter for Python inside Autodesk 3ds Max",
		Version:        fmt.Sprintf("%s (commit: %s)", cmd.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder
		// errors. This branch handles unexpected errors that weren't
		// wrapped.
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes
// from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"; don't echo
		// those placeholder messages.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
