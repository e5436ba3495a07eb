// Command opsd submits, inspects and executes delivery operations.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/opsd/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
