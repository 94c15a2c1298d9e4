// Command flowlineage links provenance events into job lineage and
// dispatches classified cohorts downstream.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/flowlineage/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
