// tagcheck checks data layer tracking offline and against live stores.
package main

import (
	"fmt"
	"os"

	"gtm-datalayer/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
