package tvm

import (
	"archive/tar"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/mcubench/internal/artifact"
	"github.com/vk/mcubench/internal/cache"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/flow"
	"github.com/vk/mcubench/internal/registry"
	"github.com/vk/mcubench/internal/testutil"
	"github.com/vk/mcubench/modules/llvm"
)

// fakeTVMC copies a prepared MLF archive to the --output argument.
const fakeTVMC = `#!/bin/sh
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--output" ]; then out="$a"; fi
  prev="$a"
done
echo "PYTHONPATH=$PYTHONPATH"
cp %q "$out"
`

func mlf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range []string{"./metadata.json", "./codegen/host/src/default_lib0.c", "./codegen/host/src/default_lib1.c", "./codegen/host/include/tvmgen_default.h"} {
		content, ok := files[name]
		if !ok {
			continue
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content))}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.Build(&Module{}, &llvm.Module{})
	require.NoError(t, err)
	return r
}

func newTestBackend(t *testing.T, name string, cfg config.Map) flow.Backend {
	t.Helper()
	ctx, _ := testutil.Context(t)
	c, err := newRegistry(t).Backend(name)
	require.NoError(t, err)
	full := c.Spec.Defaults.Clone()
	full[PythonPathKey] = "/opt/tvm/python"
	for k, v := range cfg {
		full[k] = v
	}
	b, err := c.New(ctx, full, nil)
	require.NoError(t, err)
	return b
}

func TestArgs(t *testing.T) {
	aot := newTestBackend(t, BackendAOT, nil).(*Backend)
	assert.Equal(t, []string{
		"-m", "tvm.driver.tvmc", "compile", "model.tflite",
		"--target", "c", "--runtime", "crt", "--executor", "aot",
		"--executor-aot-interface-api", "packed", "--executor-aot-unpacked-api", "0",
		"--output-format", "mlf", "--output", "out.tar", "--opt-level", "3",
		"--pass-config", "tir.disable_vectorize=1", "--pass-config", "tir.usmp.enable=0",
	}, aot.Args("model.tflite", "out.tar"))

	plus := newTestBackend(t, BackendAOTPlus, config.Map{"opt_level": "2"}).(*Backend)
	args := plus.Args("model.tflite", "out.tar")
	assert.Contains(t, args, "tir.usmp.enable=1")
	assert.Contains(t, args, "tir.usmp.algorithm=hill_climb")
	assert.Equal(t, "c", args[11])
	assert.Equal(t, "1", args[13])
	assert.Equal(t, "2", args[19])
}

func TestNewBackend_RejectsOptLevel(t *testing.T) {
	_, err := newBackend(BackendAOT, func() config.Map {
		cfg := backendDefaults(BackendAOT)
		cfg["opt_level"] = 4
		return cfg
	}())
	assert.ErrorContains(t, err, "opt_level must be between 0 and 3")
}

func TestBuild(t *testing.T) {
	// --- Arrange ---
	ctx, _ := testutil.Context(t)
	dir := t.TempDir()
	prepared := filepath.Join(dir, "prepared.tar")
	require.NoError(t, os.WriteFile(prepared, mlf(t, map[string]string{
		"./metadata.json":                        "{}",
		"./codegen/host/src/default_lib0.c":      "int lib0;\n",
		"./codegen/host/src/default_lib1.c":      "int lib1;\n",
		"./codegen/host/include/tvmgen_default.h": "#pragma once\n",
	}), 0o644))
	python := filepath.Join(dir, "python")
	require.NoError(t, os.WriteFile(python, []byte(fmt.Sprintf(fakeTVMC, prepared)), 0o755))

	b := newTestBackend(t, BackendAOTPlus, config.Map{"python": python})
	ir := []*artifact.Artifact{artifact.NewBinary("kws.tflite", []byte("TFL3"), artifact.FlagModel)}

	// --- Act ---
	arts, err := b.Build(ctx, ir)

	// --- Assert ---
	require.NoError(t, err)
	var names []string
	for _, a := range arts.Default() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"default_lib0.c", "default_lib1.c", "tvmgen_default.h", "tvm_arena.h", "default.tar", "tvmc_out.log"}, names)
	assert.True(t, artifact.FindByName(arts.Default(), "default_lib1.c").HasFlag(artifact.FlagSource))
	assert.False(t, artifact.FindByName(arts.Default(), "tvmgen_default.h").HasFlag(artifact.FlagSource))
	assert.Equal(t, "#define TVM_ARENA_SIZE 0\n", artifact.FindByName(arts.Default(), "tvm_arena.h").Text())
	assert.Contains(t, artifact.FindByName(arts.Default(), "tvmc_out.log").Text(), "PYTHONPATH=/opt/tvm/python")

	_, err = b.Build(ctx, nil)
	assert.ErrorContains(t, err, "no model artifact")
}

func TestReadMLF_NoSources(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "empty.tar")
	require.NoError(t, os.WriteFile(archive, mlf(t, map[string]string{"./metadata.json": "{}"}), 0o644))

	_, err := ReadMLF(archive)
	assert.ErrorContains(t, err, "no generated sources")
}

func TestUnpackedAPIFeature(t *testing.T) {
	ctx, _ := testutil.Context(t)
	features, err := newRegistry(t).NewFeatures(ctx, []string{FeatureUnpackedAPI}, nil)
	require.NoError(t, err)

	cfg := backendDefaults(BackendAOT)
	require.NoError(t, features[0].Definition().ApplyConfig(features[0], "backend", BackendAOT, cfg))
	b, err := newBackend(BackendAOT, cfg)
	require.NoError(t, err)
	assert.True(t, b.unpackedAPI)
}

func TestInstall(t *testing.T) {
	ctx, _ := testutil.Context(t)

	env := testutil.Environment(t, config.Map{PythonPathKey: "/opt/tvm/python"})
	tc := &registry.TaskContext{Env: env, Cache: cache.New()}
	require.NoError(t, install(ctx, tc, registry.TaskOptions{}))
	v, _ := tc.Cache.Get(PythonPathKey)
	assert.Equal(t, "/opt/tvm/python", v)
	src, _ := tc.Cache.Get(SrcDirKey)
	assert.Equal(t, "/opt/tvm", src)

	tc = &registry.TaskContext{Env: testutil.Environment(t, nil), Cache: cache.New()}
	assert.ErrorIs(t, install(ctx, tc, registry.TaskOptions{}), cache.ErrEmptyCache)

	assert.Contains(t, cmakeConfig("/opt/llvm"), "set(USE_LLVM /opt/llvm/bin/llvm-config)")
}
