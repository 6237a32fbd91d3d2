// Command querycli inspects entity catalogs and compiled list queries offline.
package main

import (
	"fmt"
	"os"

	"dcsa-query/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
