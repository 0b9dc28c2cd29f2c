// Package llvm installs a prebuilt LLVM release. TVM needs it to generate
// code and it can serve as the toolchain of LLVM-based targets.
package llvm

import (
	"context"
	"fmt"

	"github.com/vk/mcubench/internal/environment"
	"github.com/vk/mcubench/internal/registry"
	"github.com/vk/mcubench/modules/internal/fetch"
)

const (
	// TaskInstall is the setup task name.
	TaskInstall = "install_llvm"
	// InstallDirKey is the cache key of the installation directory.
	InstallDirKey = "llvm.install_dir"

	defaultVersion      = "14.0.0"
	defaultDistribution = "x86_64-linux-gnu-ubuntu-18.04"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the setup task.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterTask(registry.Task{
		Name:     TaskInstall,
		Provides: []string{InstallDirKey},
		Validate: func(env *environment.Environment, _ []string) bool {
			return env.HasToolchain("llvm") || env.HasFramework("tvm")
		},
		Action: install,
	})
}

// ReleaseURL returns the download URL of an LLVM release.
func ReleaseURL(version, distribution string) string {
	return fmt.Sprintf("https://github.com/llvm/llvm-project/releases/download/llvmorg-%[1]s/clang+llvm-%[1]s-%[2]s.tar.xz", version, distribution)
}

func install(ctx context.Context, tc *registry.TaskContext, opts registry.TaskOptions) error {
	url := fetch.VarOr(tc.Env, "llvm.url", ReleaseURL(
		fetch.VarOr(tc.Env, "llvm.version", defaultVersion),
		fetch.VarOr(tc.Env, "llvm.distribution", defaultDistribution),
	))
	_, err := fetch.Archive{Name: "llvm", Key: InstallDirKey, URL: url}.Install(ctx, tc, opts)
	return err
}
