// Package setup installs the toolchain dependencies described by the
// registered tasks and records where they ended up in the dependency cache.
package setup

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/mcubench/internal/cache"
	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/vk/mcubench/internal/environment"
	"github.com/vk/mcubench/internal/progress"
	"github.com/vk/mcubench/internal/registry"
)

// TaskError reports a failed task. Tasks after it in the order did not run.
type TaskError struct {
	Task  string
	Flags []string
	Err   error
}

func (e *TaskError) Error() string {
	if len(e.Flags) > 0 {
		return fmt.Sprintf("task %s [%s] failed: %v", e.Task, strings.Join(e.Flags, ","), e.Err)
	}
	return fmt.Sprintf("task %s failed: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Runner executes setup tasks in dependency order.
type Runner struct {
	Registry *registry.Registry
	Env      *environment.Environment
	Cache    *cache.Cache
	// Progress defaults to progress.Nop.
	Progress progress.Sink
	Verbose  bool
}

// InstallOptions control a single Install call.
type InstallOptions struct {
	// Rebuild forces tasks to redo work that is already in place.
	Rebuild bool
	// WriteCache persists the cache after all tasks succeeded.
	WriteCache bool
}

// Install runs every task once per valid variant. The first failure aborts
// the remaining order and the cache file is left untouched.
func (r *Runner) Install(ctx context.Context, opts InstallOptions) error {
	logger := ctxlog.FromContext(ctx)
	sink := r.Progress
	if sink == nil {
		sink = progress.Nop{}
	}

	order, err := r.Registry.TaskOrder()
	if err != nil {
		return fmt.Errorf("failed to order setup tasks: %w", err)
	}
	logger.Info("🚀 Installing dependencies...", "tasks", len(order), "rebuild", opts.Rebuild)

	tc := &registry.TaskContext{Env: r.Env, Cache: r.Cache}
	sink.Start("Installing dependencies", len(order))
	for _, name := range order {
		task := r.Registry.Task(name)
		for _, flags := range task.VariantList() {
			taskLogger := logger.With("task", name, "flags", flags)
			if task.Validate != nil && !task.Validate(r.Env, flags) {
				taskLogger.Debug("Task not needed in this environment, skipping.")
				continue
			}

			taskLogger.Info("Running task.")
			taskOpts := registry.TaskOptions{Flags: flags, Rebuild: opts.Rebuild, Verbose: r.Verbose}
			if err := task.Action(ctxlog.WithLogger(ctx, taskLogger), tc, taskOpts); err != nil {
				taskLogger.Error("Task failed.", "error", err)
				sink.Finish()
				return &TaskError{Task: name, Flags: flags, Err: err}
			}
		}
		sink.Advance(1)
	}
	sink.Finish()

	if opts.WriteCache {
		path := r.Env.CachePath()
		if err := r.Cache.WriteFile(path); err != nil {
			return err
		}
		logger.Debug("Dependency cache written.", "path", path, "entries", r.Cache.Len())
	}
	logger.Info("🏁 Setup finished.", "cache_entries", r.Cache.Len())
	return nil
}
