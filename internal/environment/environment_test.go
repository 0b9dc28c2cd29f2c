package environment

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/mcubench/internal/config"
)

const sampleEnvironment = `
paths {
  deps   = "deps"
  temp   = "/tmp/mcubench"
  models = ["models", "/data/models"]
}

defaults {
  backends = ["tvmaot", "tvmaotplus"]
  targets  = ["spike"]
}

frameworks = ["tvm"]
toolchains = ["gcc", "llvm"]
features   = ["vext"]

vars = {
  "llvm.version"   = "16.0.0"
  "runs_per_stage" = "false"
}

progress {
  socketio_url = "http://localhost:3000/socket.io/"
}

export "objectstore" {
  endpoint = "localhost:9000"
  bucket   = "results"
}

export "postgres" {
  url   = "postgres://bench@localhost/bench"
  table = "runs"
}
`

func TestLoad(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte(sampleEnvironment), 0o644))

	env, err := Load(context.Background(), home)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "deps"), env.Paths.Deps)
	assert.Equal(t, "/tmp/mcubench", env.Paths.Temp)
	assert.Equal(t, []string{filepath.Join(home, "models"), "/data/models"}, env.Paths.Models)
	assert.Equal(t, []string{"tvmaot", "tvmaotplus"}, env.Defaults.Backends)
	assert.Equal(t, []string{"tflite"}, env.Defaults.Frontends, "unset defaults keep built-in values")
	assert.Equal(t, "mlif", env.Defaults.Compiler)
	assert.True(t, env.HasFramework("tvm"))
	assert.True(t, env.HasToolchain("llvm"))
	assert.True(t, env.HasFeature("vext"))
	assert.False(t, env.HasFeature("debug"))
	assert.Equal(t, config.Map{"llvm.version": "16.0.0", "runs_per_stage": "false"}, env.Vars)

	v, ok := env.Var("llvm.version")
	assert.True(t, ok)
	assert.Equal(t, "16.0.0", v)

	require.NotNil(t, env.Progress)
	assert.Equal(t, "/", env.Progress.Namespace)
	assert.Equal(t, "progress", env.Progress.Event)

	require.Len(t, env.Exports, 2)
	assert.Equal(t, "objectstore", env.Exports[0].Kind)
	assert.Equal(t, "runs", env.Exports[1].Table)

	assert.Equal(t, filepath.Join(home, "deps", "cache.hcl"), env.CachePath())
	assert.Equal(t, filepath.Join("/tmp/mcubench", "sessions"), env.SessionsDir())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()

	env, err := Load(context.Background(), home)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "temp"), env.Paths.Temp)
	assert.Equal(t, []string{"tvmaot"}, env.Defaults.Backends)
	assert.Nil(t, env.Progress)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("syntax error", func(t *testing.T) {
		home := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte("paths {"), 0o644))
		_, err := Load(context.Background(), home)
		assert.ErrorContains(t, err, "failed to parse")
	})

	t.Run("invalid export", func(t *testing.T) {
		home := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte(`export "ftp" {}`), 0o644))
		_, err := Load(context.Background(), home)
		assert.ErrorContains(t, err, `unknown export kind "ftp"`)
	})
}

func TestResolveHome(t *testing.T) {
	t.Run("explicit hint directory", func(t *testing.T) {
		dir := t.TempDir()
		home, err := ResolveHome(dir)
		require.NoError(t, err)
		assert.Equal(t, dir, home)
	})

	t.Run("environment variable", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv(HomeEnvVar, dir)
		home, err := ResolveHome("")
		require.NoError(t, err)
		assert.Equal(t, dir, home)
	})

	t.Run("hint overrides environment variable", func(t *testing.T) {
		t.Setenv(HomeEnvVar, t.TempDir())
		hint := t.TempDir()
		home, err := ResolveHome(hint)
		require.NoError(t, err)
		assert.Equal(t, hint, home)
	})

	t.Run("unknown hint", func(t *testing.T) {
		_, err := ResolveHome(filepath.Join(t.TempDir(), "missing"))
		assert.ErrorIs(t, err, ErrNoEnvironment)
	})

	t.Run("variable pointing nowhere", func(t *testing.T) {
		t.Setenv(HomeEnvVar, filepath.Join(t.TempDir(), "missing"))
		_, err := ResolveHome("")
		assert.ErrorIs(t, err, ErrNoEnvironment)
	})
}

func TestLock(t *testing.T) {
	env := &Environment{Home: t.TempDir()}

	unlock, err := env.Lock()
	require.NoError(t, err)

	_, err = env.Lock()
	assert.ErrorIs(t, err, ErrLocked)

	unlock()
	unlock2, err := env.Lock()
	require.NoError(t, err)
	unlock2()
}
