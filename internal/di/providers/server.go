package providers

import (
	"context"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/shelfnotes/shelfnotes-server/internal/api"
	"github.com/shelfnotes/shelfnotes-server/internal/config"
	"github.com/shelfnotes/shelfnotes-server/internal/logger"
	"github.com/shelfnotes/shelfnotes-server/internal/service"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
	handler *api.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := h.Server.Shutdown(ctx)
	h.handler.Close()
	return err
}

// ProvideHTTPServer provides the HTTP server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	backendHandle := do.MustInvoke[*BackendHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	visitors := do.MustInvoke[*VisitorRegistryHandle](i)

	services := &api.Services{
		Instance: do.MustInvoke[*service.InstanceService](i),
		Book:     do.MustInvoke[*service.BookService](i),
		Review:   do.MustInvoke[*service.ReviewService](i),
		Profile:  do.MustInvoke[*service.ProfileService](i),
	}

	handler := api.NewServer(api.Options{
		Config:   cfg,
		Services: services,
		Provider: backendHandle.Provider,
		Visitors: visitors.Registry,
		Events:   sseHandle.Manager,
		Logger:   log.Logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("Server running", "addr", srv.Addr, "backend", backendHandle.Name())

	return &HTTPServerHandle{Server: srv, handler: handler}, nil
}
