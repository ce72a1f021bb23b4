// Package main is the entry point for the tvarr-player application.
package main

import (
	"os"

	"github.com/jmylchreest/tvarr-player/cmd/tvarr-player/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
