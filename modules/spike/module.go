// Package spike builds the Spike RISC-V ISA simulator with its proxy kernel
// and registers it as a target.
package spike

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"

	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/vk/mcubench/internal/environment"
	"github.com/vk/mcubench/internal/feature"
	"github.com/vk/mcubench/internal/flow"
	"github.com/vk/mcubench/internal/fsutil"
	"github.com/vk/mcubench/internal/registry"
	"github.com/vk/mcubench/internal/target"
	"github.com/vk/mcubench/modules/benchmark"
	"github.com/vk/mcubench/modules/internal/fetch"
	"github.com/vk/mcubench/modules/riscvgcc"
)

const (
	// TaskBuild is the setup task name.
	TaskBuild = "build_spike"
	// ExeKey is the cache key of the simulator binary.
	ExeKey = "spike.exe"
	// PKKey is the cache key of the proxy kernel.
	PKKey = "spike.pk"
	// TargetName is the registered target name.
	TargetName = "spike"
	// FeatureVext enables the RISC-V vector extension.
	FeatureVext = "vext"

	spikeRepo = "https://github.com/riscv-software-src/riscv-isa-sim.git"
	pkRepo    = "https://github.com/riscv-software-src/riscv-pk.git"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the build task, the target and the vext feature.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterTask(registry.Task{
		Name:     TaskBuild,
		Provides: []string{ExeKey, PKKey},
		Requires: []string{riscvgcc.InstallDirKey},
		Variants: [][]string{{}, {FeatureVext}},
		Validate: func(env *environment.Environment, flags []string) bool {
			if slices.Contains(flags, FeatureVext) {
				return env.HasFeature(FeatureVext)
			}
			return env.HasToolchain("gcc")
		},
		Action: build,
	})

	r.RegisterTarget(flow.Spec{
		Name:     TargetName,
		Features: []string{FeatureVext, benchmark.FeatureName},
		Defaults: target.WithDefaults(config.Map{
			"enable_vext": false,
			"vlen":        0,
			"isa":         "rv32gc",
			"abi":         "ilp32d",
			"extra_args":  "",
		}),
		Required: []string{ExeKey, PKKey, riscvgcc.InstallDirKey, riscvgcc.NameKey},
	}, newTarget)

	r.RegisterFeature(&feature.Definition{
		Name:       FeatureVext,
		Categories: feature.Setup | feature.Target,
		Defaults:   config.Map{"vlen": 64},
		CacheFlags: func(_ *feature.Feature, flags map[string][]string) {
			for _, key := range []string{riscvgcc.InstallDirKey, riscvgcc.NameKey, ExeKey, PKKey} {
				flags[key] = append(flags[key], FeatureVext)
			}
		},
		ApplyConfig: func(f *feature.Feature, kind, _ string, cfg config.Map) error {
			if kind != "target" {
				return nil
			}
			vlen, err := f.Config.Int("vlen")
			if err != nil {
				return err
			}
			if vlen < 32 || vlen&(vlen-1) != 0 {
				return fmt.Errorf("vlen must be a power of two >= 32, got %d", vlen)
			}
			cfg["enable_vext"] = true
			cfg["vlen"] = vlen
			return nil
		},
	})
}

func build(ctx context.Context, tc *registry.TaskContext, opts registry.TaskOptions) error {
	logger := ctxlog.FromContext(ctx).With("task", TaskBuild)
	exe, exeSet := fetch.Override(tc.Env, ExeKey)
	pk, pkSet := fetch.Override(tc.Env, PKKey)
	if exeSet && pkSet {
		logger.Info("Using user-provided Spike.", "exe", exe, "pk", pk)
		return setOutputs(tc, opts.Flags, exe, pk)
	}

	gccDir, err := tc.Cache.Lookup(riscvgcc.InstallDirKey, opts.Flags...)
	if err != nil {
		return err
	}
	name, ok := tc.Cache.Get(riscvgcc.NameKey, opts.Flags...)
	if !ok {
		name = riscvgcc.DefaultName
	}

	installDir := fetch.InstallDir(tc.Env, fetch.DirName("spike", opts.Flags))
	exe = filepath.Join(installDir, "bin", "spike")
	pk = filepath.Join(installDir, "pk")
	if !opts.Rebuild && fsutil.Exists(exe) && fsutil.Exists(pk) {
		logger.Debug("Spike already built.", "dir", installDir)
		return setOutputs(tc, opts.Flags, exe, pk)
	}

	jobs := strconv.Itoa(runtime.NumCPU())
	spikeSrc := fetch.SrcDir(tc.Env, "spike")
	if err := fetch.GitClone(ctx, spikeRepo, "master", spikeSrc); err != nil {
		return err
	}
	if err := fetch.Build(ctx, filepath.Join(spikeSrc, "build"), nil, opts.Verbose,
		[]string{"../configure", "--prefix=" + installDir},
		[]string{"make", "-j", jobs},
		[]string{"make", "install"},
	); err != nil {
		return fmt.Errorf("building spike: %w", err)
	}

	pkSrc := fetch.SrcDir(tc.Env, "spike_pk")
	if err := fetch.GitClone(ctx, pkRepo, "master", pkSrc); err != nil {
		return err
	}
	arch := "rv32gc"
	if slices.Contains(opts.Flags, FeatureVext) {
		arch = "rv32gcv"
	}
	pkEnv := []string{"PATH=" + filepath.Join(fmt.Sprint(gccDir), "bin") + string(os.PathListSeparator) + os.Getenv("PATH")}
	pkBuild := filepath.Join(pkSrc, fetch.DirName("build", opts.Flags))
	if err := fetch.Build(ctx, pkBuild, pkEnv, opts.Verbose,
		[]string{"../configure", "--host=" + fmt.Sprint(name), "--with-arch=" + arch, "--with-abi=ilp32d"},
		[]string{"make", "-j", jobs},
	); err != nil {
		return fmt.Errorf("building proxy kernel: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(pkBuild, "pk"))
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(pk, data, 0o755); err != nil {
		return err
	}
	return setOutputs(tc, opts.Flags, exe, pk)
}

func setOutputs(tc *registry.TaskContext, flags []string, exe, pk string) error {
	if err := tc.Cache.Set(ExeKey, flags, exe); err != nil {
		return err
	}
	return tc.Cache.Set(PKKey, flags, pk)
}
