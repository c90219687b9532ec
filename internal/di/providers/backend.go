package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	"github.com/shelfnotes/shelfnotes-server/internal/backend/local"
	"github.com/shelfnotes/shelfnotes-server/internal/backend/supabase"
	"github.com/shelfnotes/shelfnotes-server/internal/config"
	"github.com/shelfnotes/shelfnotes-server/internal/logger"
	"github.com/shelfnotes/shelfnotes-server/internal/sse"
)

// SSEManagerHandle wraps the SSE manager with its context for lifecycle management.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Manager.Shutdown(ctx)
}

// ProvideSSEManager provides the server-sent events manager.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)

	manager := sse.NewManager(log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	log.Info("SSE manager started")

	return &SSEManagerHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}

// BackendHandle wraps the active backend provider with shutdown capability.
type BackendHandle struct {
	backend.Provider
}

// Shutdown implements do.Shutdownable.
func (h *BackendHandle) Shutdown() error {
	return h.Close()
}

// ProvideBackend provides the hosted backend when it is configured and the
// embedded demo backend otherwise.
func ProvideBackend(i do.Injector) (*BackendHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.Backend.DemoMode() {
		p, err := supabase.New(supabase.Options{
			URL:               cfg.Backend.URL,
			AnonKey:           cfg.Backend.AnonKey,
			RequestsPerSecond: cfg.Backend.RequestsPerSecond,
			Timeout:           cfg.Backend.Timeout,
			Logger:            log.Logger,
		})
		if err != nil {
			return nil, err
		}
		log.Info("Hosted backend configured", "url", cfg.Backend.URL)
		return &BackendHandle{Provider: p}, nil
	}

	p, err := local.Open(local.Options{
		DataPath:        cfg.Local.DataPath,
		AccessTokenTTL:  cfg.Auth.AccessTokenDuration,
		RefreshTokenTTL: cfg.Auth.RefreshTokenDuration,
		SeedPath:        cfg.Local.SeedPath,
		Logger:          log.Logger,
	})
	if err != nil {
		return nil, err
	}

	log.Warn("Running in demo mode with the local backend",
		"data_path", cfg.Local.DataPath,
		"seed_path", cfg.Local.SeedPath,
	)
	return &BackendHandle{Provider: p}, nil
}
