package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/mcubench/internal/cache"
	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/vk/mcubench/internal/environment"
	"github.com/vk/mcubench/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	registry   *registry.Registry
	config     *Config
	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// Without modules the built-in core modules are registered.
func NewApp(outW io.Writer, cfg *Config, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	if len(modules) == 0 {
		modules = coreModules
	}
	reg, err := registry.Build(modules...)
	if err != nil {
		return nil, fmt.Errorf("invalid module registration: %w", err)
	}
	logger.Debug("All Go modules registered.", "count", len(modules), "tasks", len(reg.TaskNames()))

	return &App{outW: outW, logger: logger, registry: reg, config: cfg}, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Run executes the configured command.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "command", a.config.Command)

	if a.config.HealthcheckPort > 0 {
		if _, err := a.startHealthcheckServer(ctx, a.config.HealthcheckPort); err != nil {
			return err
		}
		defer a.stopHealthcheckServer(ctx)
	}

	home, err := environment.ResolveHome(a.config.Home)
	if err != nil {
		return err
	}
	env, err := environment.Load(ctx, home)
	if err != nil {
		return err
	}
	deps, err := cache.ReadFile(env.CachePath())
	if err != nil {
		return fmt.Errorf("loading dependency cache: %w", err)
	}
	a.logger.Debug("Environment loaded.", "home", env.Home, "cache_entries", deps.Len())

	if a.config.Command == CommandSetup {
		return a.setup(ctx, env, deps)
	}
	until, _ := a.config.Command.Stage()
	return a.flow(ctx, env, deps, until)
}
