// Package riscvgcc installs the prebuilt RISC-V GNU toolchain, once without
// and once with vector extension support.
package riscvgcc

import (
	"context"
	"path/filepath"
	"slices"

	"github.com/vk/mcubench/internal/environment"
	"github.com/vk/mcubench/internal/registry"
	"github.com/vk/mcubench/modules/internal/fetch"
)

const (
	// TaskInstall is the setup task name.
	TaskInstall = "install_riscv_gcc"
	// InstallDirKey is the cache key of the toolchain directory.
	InstallDirKey = "riscv_gcc.install_dir"
	// NameKey is the cache key of the toolchain triple.
	NameKey = "riscv_gcc.name"
	// DefaultName is the triple of the default toolchain.
	DefaultName = "riscv32-unknown-elf"

	// The 2023.07.07 release ships GCC 13, which already supports RVV 1.0.
	defaultURL = "https://github.com/riscv-collab/riscv-gnu-toolchain/releases/download/2023.07.07/riscv32-elf-ubuntu-22.04-nightly-2023.07.07-nightly.tar.gz"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the setup task.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterTask(registry.Task{
		Name:     TaskInstall,
		Provides: []string{InstallDirKey, NameKey},
		Variants: [][]string{{}, {"vext"}},
		Validate: func(env *environment.Environment, flags []string) bool {
			if slices.Contains(flags, "vext") {
				return env.HasFeature("vext")
			}
			return env.HasToolchain("gcc")
		},
		Action: install,
	})
}

func install(ctx context.Context, tc *registry.TaskContext, opts registry.TaskOptions) error {
	url := fetch.VarOr(tc.Env, "riscv_gcc.url", defaultURL)
	if slices.Contains(opts.Flags, "vext") {
		url = fetch.VarOr(tc.Env, "riscv_gcc.url_vext", url)
	}
	if _, err := (fetch.Archive{Name: "riscv_gcc", Key: InstallDirKey, URL: url}).Install(ctx, tc, opts); err != nil {
		return err
	}
	return tc.Cache.Set(NameKey, opts.Flags, fetch.VarOr(tc.Env, NameKey, DefaultName))
}

// Binary returns the path of a toolchain program, for example "gcc".
func Binary(installDir, name, tool string) string {
	if name == "" {
		name = DefaultName
	}
	return filepath.Join(installDir, "bin", name+"-"+tool)
}
