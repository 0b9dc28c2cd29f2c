package app

import (
	"context"

	"github.com/vk/mcubench/internal/cache"
	"github.com/vk/mcubench/internal/environment"
	"github.com/vk/mcubench/internal/setup"
)

// setup installs all dependencies of the environment while holding its lock.
func (a *App) setup(ctx context.Context, env *environment.Environment, deps *cache.Cache) error {
	unlock, err := env.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	runner := &setup.Runner{
		Registry: a.registry,
		Env:      env,
		Cache:    deps,
		Progress: a.progressSink(ctx, env),
		Verbose:  a.config.Verbose,
	}
	return runner.Install(ctx, setup.InstallOptions{Rebuild: a.config.Rebuild, WriteCache: true})
}
