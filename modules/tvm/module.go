// Package tvm builds Apache TVM and registers its ahead-of-time backends,
// which drive tvmc to generate C code in Model Library Format.
package tvm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/vk/mcubench/internal/environment"
	"github.com/vk/mcubench/internal/feature"
	"github.com/vk/mcubench/internal/flow"
	"github.com/vk/mcubench/internal/registry"
	"github.com/vk/mcubench/modules/internal/fetch"
	"github.com/vk/mcubench/modules/llvm"
)

const (
	// TaskInstall is the setup task name.
	TaskInstall = "install_tvm"
	// PythonPathKey is the cache key of TVM's python package directory.
	PythonPathKey = "tvm.pythonpath"
	// SrcDirKey is the cache key of the TVM checkout.
	SrcDirKey = "tvm.src_dir"
	// BackendAOT is the plain ahead-of-time executor backend.
	BackendAOT = "tvmaot"
	// BackendAOTPlus uses the unpacked API and the unified static memory planner.
	BackendAOTPlus = "tvmaotplus"
	// FeatureUnpackedAPI makes the AOT executor call operators directly.
	FeatureUnpackedAPI = "unpacked_api"

	defaultRepo = "https://github.com/apache/tvm.git"
	defaultRef  = "v0.12.0"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the setup task, the backends and the unpacked_api feature.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterTask(registry.Task{
		Name:     TaskInstall,
		Provides: []string{PythonPathKey, SrcDirKey},
		Requires: []string{llvm.InstallDirKey},
		Validate: func(env *environment.Environment, _ []string) bool {
			return env.HasFramework("tvm")
		},
		Action: install,
	})

	for _, name := range []string{BackendAOT, BackendAOTPlus} {
		spec := flow.Spec{
			Name:     name,
			Features: []string{FeatureUnpackedAPI},
			Defaults: backendDefaults(name),
			Required: []string{PythonPathKey},
		}
		r.RegisterBackend(spec, func(_ context.Context, cfg config.Map, _ []*feature.Feature) (flow.Backend, error) {
			return newBackend(spec.Name, cfg)
		})
	}

	r.RegisterFeature(&feature.Definition{
		Name:       FeatureUnpackedAPI,
		Categories: feature.Backend,
		ApplyConfig: func(_ *feature.Feature, kind, _ string, cfg config.Map) error {
			if kind == "backend" {
				cfg["unpacked_api"] = true
			}
			return nil
		},
	})
}

func backendDefaults(name string) config.Map {
	cfg := config.Map{
		"python":         "python3",
		"opt_level":      3,
		"unpacked_api":   false,
		"usmp":           false,
		"usmp_algorithm": "greedy_by_size",
		"arena_size":     -1,
		"timeout_sec":    0,
	}
	if name == BackendAOTPlus {
		cfg["unpacked_api"] = true
		cfg["usmp"] = true
		cfg["usmp_algorithm"] = "hill_climb"
		cfg["arena_size"] = 0
	}
	return cfg
}

func install(ctx context.Context, tc *registry.TaskContext, opts registry.TaskOptions) error {
	logger := ctxlog.FromContext(ctx).With("task", TaskInstall)
	if pythonPath, ok := fetch.Override(tc.Env, PythonPathKey); ok {
		logger.Info("Using user-provided TVM.", "pythonpath", pythonPath)
		if err := tc.Cache.Set(SrcDirKey, opts.Flags, filepath.Dir(pythonPath)); err != nil {
			return err
		}
		return tc.Cache.Set(PythonPathKey, opts.Flags, pythonPath)
	}

	llvmDir, err := tc.Cache.Lookup(llvm.InstallDirKey, opts.Flags...)
	if err != nil {
		return err
	}
	src := fetch.SrcDir(tc.Env, fetch.DirName("tvm", opts.Flags))
	repo := fetch.VarOr(tc.Env, "tvm.url", defaultRepo)
	ref := fetch.VarOr(tc.Env, "tvm.ref", defaultRef)
	if err := fetch.GitClone(ctx, repo, ref, src); err != nil {
		return err
	}

	buildDir := filepath.Join(src, "build")
	lib := filepath.Join(buildDir, "libtvm.so")
	if opts.Rebuild || !fileExists(lib) {
		if err := os.MkdirAll(buildDir, 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(buildDir, "config.cmake"), []byte(cmakeConfig(fmt.Sprint(llvmDir))), 0o644); err != nil {
			return err
		}
		if err := fetch.Build(ctx, src, nil, opts.Verbose, []string{"git", "submodule", "update", "--init", "--recursive"}); err != nil {
			return err
		}
		if err := fetch.Build(ctx, buildDir, nil, opts.Verbose,
			[]string{"cmake", ".."},
			[]string{"make", "-j", strconv.Itoa(runtime.NumCPU())},
		); err != nil {
			return fmt.Errorf("building tvm: %w", err)
		}
	}

	if err := tc.Cache.Set(SrcDirKey, opts.Flags, src); err != nil {
		return err
	}
	return tc.Cache.Set(PythonPathKey, opts.Flags, filepath.Join(src, "python"))
}

func cmakeConfig(llvmDir string) string {
	return fmt.Sprintf("set(USE_LLVM %s)\nset(USE_MICRO ON)\nset(USE_LIBBACKTRACE OFF)\n",
		filepath.Join(llvmDir, "bin", "llvm-config"))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
