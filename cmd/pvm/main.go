// Command pvm maps system-level audit traces into a provenance graph.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/pvm/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
