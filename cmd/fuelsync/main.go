// Package main provides the fuelsync command line entry point.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bher20/fuelsync/internal/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx))
}

func run(ctx context.Context) int {
	a, err := commands.New()
	if err != nil {
		slog.Error("Failed to build command line", "err", err)
		return 1
	}

	if err := a.RootCmd().ExecuteContext(ctx); err != nil {
		slog.Error(err.Error())
		if a.UsageError() {
			return 2
		}
		return 1
	}
	return 0
}
