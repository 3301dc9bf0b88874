package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Version is the canonical project version, shared by the binary and
// the bundled debugger payload.
const Version = "0.1.0"

// VersionCommand returns the version command. It never touches the
// target application or the debug endpoint.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "maxdap %s (commit: %s)\n", Version, commit)
			return nil
		},
	}
}
