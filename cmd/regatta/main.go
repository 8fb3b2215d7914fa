package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fathomline/regatta/internal/cli"
	"github.com/fathomline/regatta/pkg/logger"
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString("regatta: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}
