// Package mlif provides the model library interface: a small C harness that
// links generated model code into a program printing its cycle count.
package mlif

import (
	"context"

	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/vk/mcubench/internal/feature"
	"github.com/vk/mcubench/internal/flow"
	"github.com/vk/mcubench/internal/registry"
	"github.com/vk/mcubench/modules/internal/fetch"
)

const (
	// TaskClone is the setup task name.
	TaskClone = "clone_mlif"
	// SrcDirKey is the cache key of the harness sources.
	SrcDirKey = "mlif.src_dir"
	// CompilerName is the registered compiler name.
	CompilerName = "mlif"
	// FeatureDebug builds without optimization and with debug symbols.
	FeatureDebug = "debug"
	// ProgramName is the name of the produced executable artifact.
	ProgramName = "generic_mlif"

	defaultRepo = "https://github.com/tum-ei-eda/mlonmcu-sw.git"
	defaultRef  = "main"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the clone task, the compiler and the debug feature.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterTask(registry.Task{
		Name:     TaskClone,
		Provides: []string{SrcDirKey},
		Action:   clone,
	})

	r.RegisterCompiler(flow.Spec{
		Name:     CompilerName,
		Features: []string{FeatureDebug},
		Defaults: config.Map{
			"opt_level":    "s",
			"debug":        false,
			"extra_cflags": "",
		},
		Required: []string{SrcDirKey},
	}, newCompiler)

	r.RegisterFeature(&feature.Definition{
		Name:       FeatureDebug,
		Categories: feature.Compile,
		ApplyConfig: func(_ *feature.Feature, kind, _ string, cfg config.Map) error {
			if kind == "compiler" {
				cfg["debug"] = true
				cfg["opt_level"] = "0"
			}
			return nil
		},
	})
}

func clone(ctx context.Context, tc *registry.TaskContext, opts registry.TaskOptions) error {
	if dir, ok := fetch.Override(tc.Env, SrcDirKey); ok {
		ctxlog.FromContext(ctx).Info("Using user-provided MLIF sources.", "dir", dir)
		return tc.Cache.Set(SrcDirKey, opts.Flags, dir)
	}
	dir := fetch.SrcDir(tc.Env, "mlif")
	repo := fetch.VarOr(tc.Env, "mlif.url", defaultRepo)
	ref := fetch.VarOr(tc.Env, "mlif.ref", defaultRef)
	if err := fetch.GitClone(ctx, repo, ref, dir); err != nil {
		return err
	}
	return tc.Cache.Set(SrcDirKey, opts.Flags, dir)
}
