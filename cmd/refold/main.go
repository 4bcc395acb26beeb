package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/refold/refold/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		// Commands print their own diagnostics; the exit code is all that
		// is left to communicate.
		os.Exit(cli.GetExitCode(err))
	}
}
