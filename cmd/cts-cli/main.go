// Package main provides the entry point for cts-cli, the maintenance tool
// of the core token store.
package main

import (
	"fmt"
	"os"

	"github.com/yndnr/tokmesh-cts/internal/cli/command"
)

func main() {
	if err := command.App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
