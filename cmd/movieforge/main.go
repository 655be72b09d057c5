// Package main is the entry point for the movieforge application.
package main

import (
	"os"

	"github.com/jmylchreest/movieforge/cmd/movieforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
