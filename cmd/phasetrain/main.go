// Command phasetrain runs phase-scheduled training and inspects its outputs.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/phasetrain/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		os.Exit(cli.ExitSuccess)
	}

	// Commands report their own failures as ExitError. Anything else comes
	// from flag or argument parsing.
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(cli.ExitCommandError)
}
