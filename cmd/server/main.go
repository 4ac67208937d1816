package main

import (
	"os"
)

// main only dispatches to cobra. Wiring lives in app.go, commands in their
// own files.
func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
