// Package providers contains dependency injection providers for the ShelfNotes server.
package providers

import (
	"log/slog"
	"time"

	"github.com/samber/do/v2"

	"github.com/shelfnotes/shelfnotes-server/internal/config"
	"github.com/shelfnotes/shelfnotes-server/internal/logger"
)

// shutdownTimeout bounds each handle's Shutdown.
const shutdownTimeout = 30 * time.Second

// ProvideConfig loads configuration from flags, the environment and .env.
func ProvideConfig(do.Injector) (*config.Config, error) {
	return config.LoadConfig()
}

// ProvideLogger builds the logger and records the effective startup settings.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)
	dev := cfg.App.Environment == "development"

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		Environment: cfg.App.Environment,
		AddSource:   dev,
	})

	backendAttrs := []any{slog.Bool("demo_mode", cfg.Backend.DemoMode())}
	if cfg.Backend.DemoMode() {
		backendAttrs = append(backendAttrs, slog.String("data_path", cfg.Local.DataPath))
	} else {
		backendAttrs = append(backendAttrs, slog.String("url", cfg.Backend.URL))
	}

	log.Info("Starting ShelfNotes Server",
		slog.String("environment", cfg.App.Environment),
		slog.String("log_level", cfg.Logger.Level),
		slog.Group("backend", backendAttrs...),
	)
	return log, nil
}
