package main

import (
	"errors"
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"

	"github.com/runnerr0/metmac/internal/cli"
)

// Version is set via ldflags during build.
var Version = "dev"

func main() {
	if err := cli.Run(Version); err != nil {
		// go-flags has already printed its own parse errors.
		var flagsErr *goflags.Error
		if !errors.As(err, &flagsErr) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
