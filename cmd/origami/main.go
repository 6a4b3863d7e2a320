// Package main is the entry point for the origami CLI.
package main

import (
	"os"

	"github.com/good-yellow-bee/origami/cmd/origami/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
