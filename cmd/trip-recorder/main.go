package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Version information - populated at build time via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func versionString() string {
	if Version != "dev" {
		return fmt.Sprintf("v%s (%s, built %s)", Version, Commit, BuildDate)
	}
	return fmt.Sprintf("dev (%s)", Commit)
}
