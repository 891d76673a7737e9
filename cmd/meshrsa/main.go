package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/meshrsa/internal/cli"
	"github.com/okian/meshrsa/pkg/logger"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCmd(&cli.Dependencies{})
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString("meshrsa: " + err.Error() + "\n")
		return 1
	}
	return 0
}
