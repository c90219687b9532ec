// Command api serves the ShelfNotes HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/shelfnotes/shelfnotes-server/internal/di"
	"github.com/shelfnotes/shelfnotes-server/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "shelfnotes: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	injector := di.NewContainer()
	if err := di.Bootstrap(injector); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	log := do.MustInvoke[*logger.Logger](injector)

	<-ctx.Done()
	log.Info("Shutting down server gracefully...")

	// Handles stop in reverse dependency order, HTTP first and the store last.
	if err := injector.Shutdown(); err != nil {
		log.Error("Shutdown error", "error", err)
		return fmt.Errorf("shutdown: %v", err)
	}
	log.Info("Server stopped")
	return nil
}
