package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"phototheology.app/palace/internal/cli"
)

func main() {
	// interrupting stops playback and lets the runtime close cleanly
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	exitCode := cli.NewCLI().RunContext(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(exitCode)
}
