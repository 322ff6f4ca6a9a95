// Command docmerge merges lookup collections into source collections of a
// MongoDB database.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/docmerge/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	// Subcommands render their own failures; anything else is a usage error
	// from flag parsing or command lookup.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(exitErr.Code)
}
