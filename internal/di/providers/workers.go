package providers

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/shelfnotes/shelfnotes-server/internal/config"
	"github.com/shelfnotes/shelfnotes-server/internal/logger"
	"github.com/shelfnotes/shelfnotes-server/internal/service"
	"github.com/shelfnotes/shelfnotes-server/internal/visitor"
)

// visitorSweepInterval bounds how long an idle visitor outlives its TTL.
const visitorSweepInterval = time.Minute

// VisitorRegistryHandle wraps the visitor registry and its idle sweeper.
type VisitorRegistryHandle struct {
	*visitor.Registry
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *VisitorRegistryHandle) Shutdown() error {
	h.cancel()
	h.Close()
	return nil
}

// ProvideVisitorRegistry provides the visitor registry and starts the job
// that expires idle visitors.
func ProvideVisitorRegistry(i do.Injector) (*VisitorRegistryHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	backendHandle := do.MustInvoke[*BackendHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	registry := visitor.NewRegistry(visitor.Options{
		Provider: backendHandle.Provider,
		Books:    do.MustInvoke[*service.BookService](i),
		Reviews:  do.MustInvoke[*service.ReviewService](i),
		Events:   sseHandle.Manager,
		IdleTTL:  cfg.Visitor.IdleTTL,
		Logger:   log.Logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go registry.Run(ctx, visitorSweepInterval)

	log.Info("Visitor sweeper started", "idle_ttl", cfg.Visitor.IdleTTL)

	return &VisitorRegistryHandle{Registry: registry, cancel: cancel}, nil
}
