// Package main is the entry point for the exa CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rdmontgomery/exa/internal/cli"
)

// Build information, set via ldflags at build time.
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildDate = buildDate
	cli.GitCommit = gitCommit

	// First ctrl-c cancels the build and lets running jobs stop inside
	// their grace period; a second one kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
