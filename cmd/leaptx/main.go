// Package main is the entry point of the leaptx CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/leaptx/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
