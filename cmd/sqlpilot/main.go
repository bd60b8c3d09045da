// Package main is the entry point of the sqlpilot CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/sqlpilot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
