// Command viewfold maintains vote tallies, display names and open-item
// counts over an append-only message log.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/viewfold/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
