// Package main provides the catsync CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/catsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
