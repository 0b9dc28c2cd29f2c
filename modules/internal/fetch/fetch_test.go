package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/mcubench/internal/cache"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/registry"
	"github.com/vk/mcubench/internal/testutil"
)

func serve(t *testing.T, path string, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestDownloadAndExtract(t *testing.T) {
	// --- Arrange ---
	archive := testutil.TarGz(t, map[string]string{"bin/spike": "#!/bin/sh\n", "README": "hi"})
	srv, _ := serve(t, "/spike.tar.gz", archive)
	dest := filepath.Join(t.TempDir(), "spike")

	// --- Act ---
	err := DownloadAndExtract(context.Background(), srv.URL+"/spike.tar.gz", dest)

	// --- Assert ---
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dest, "bin", "spike"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))
	assert.True(t, Populated(dest))

	err = DownloadAndExtract(context.Background(), srv.URL+"/missing.tar.gz", t.TempDir())
	assert.ErrorContains(t, err, "404")
}

func TestExtract_RejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")
	require.NoError(t, os.WriteFile(archive, testutil.TarGz(t, map[string]string{"../../evil": "x"}), 0o644))

	err := Extract(context.Background(), archive, filepath.Join(dir, "out"))
	assert.ErrorContains(t, err, "escapes destination")
}

func TestArchiveInstall(t *testing.T) {
	ctx, _ := testutil.Context(t)
	srv, hits := serve(t, "/tool.tar.gz", testutil.TarGz(t, map[string]string{"bin/tool": "x"}))

	t.Run("downloads once per variant", func(t *testing.T) {
		env := testutil.Environment(t, nil)
		tc := &registry.TaskContext{Env: env, Cache: cache.New()}
		a := Archive{Name: "tool", Key: "tool.install_dir", URL: srv.URL + "/tool.tar.gz"}
		hits.Store(0)

		dir, err := a.Install(ctx, tc, registry.TaskOptions{Flags: []string{"vext"}})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(env.Paths.Deps, "install", "tool_vext"), dir)

		_, err = a.Install(ctx, tc, registry.TaskOptions{Flags: []string{"vext"}})
		require.NoError(t, err)
		assert.EqualValues(t, 1, hits.Load())

		_, err = a.Install(ctx, tc, registry.TaskOptions{Flags: []string{"vext"}, Rebuild: true})
		require.NoError(t, err)
		assert.EqualValues(t, 2, hits.Load())

		v, ok := tc.Cache.Get("tool.install_dir", "vext")
		require.True(t, ok)
		assert.Equal(t, dir, v)
		assert.False(t, tc.Cache.Has("tool.install_dir"))
	})

	t.Run("environment var overrides the download", func(t *testing.T) {
		env := testutil.Environment(t, config.Map{"tool.install_dir": "/opt/tool"})
		tc := &registry.TaskContext{Env: env, Cache: cache.New()}
		a := Archive{Name: "tool", Key: "tool.install_dir", URL: "http://127.0.0.1:1/unreachable.tar.gz"}

		dir, err := a.Install(ctx, tc, registry.TaskOptions{})
		require.NoError(t, err)
		assert.Equal(t, "/opt/tool", dir)
		v, _ := tc.Cache.Get("tool.install_dir")
		assert.Equal(t, "/opt/tool", v)
	})
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "riscv_gcc", DirName("riscv_gcc", nil))
	assert.Equal(t, "riscv_gcc_vext", DirName("riscv_gcc", []string{"vext"}))
	assert.Equal(t, "bin/x", stripFirst("./pkg/bin/x"))
	assert.Equal(t, "", stripFirst("pkg"))
	assert.False(t, Populated(filepath.Join(t.TempDir(), "missing")))

	env := testutil.Environment(t, config.Map{"llvm.version": "16.0.0"})
	assert.Equal(t, "16.0.0", VarOr(env, "llvm.version", "14.0.0"))
	assert.Equal(t, "x86", VarOr(env, "llvm.distribution", "x86"))
}

func TestBuild(t *testing.T) {
	ctx, _ := testutil.Context(t)
	dir := filepath.Join(t.TempDir(), "build")

	err := Build(ctx, dir, []string{"GREETING=hello"}, false,
		[]string{"sh", "-c", "echo $GREETING > out.txt"},
		[]string{"sh", "-c", "cat out.txt out.txt > out2.txt"},
	)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "out2.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\nhello\n", string(data))

	err = Build(ctx, dir, nil, false, []string{"sh", "-c", "touch first"}, []string{})
	assert.ErrorContains(t, err, "build step 2")

	err = Build(ctx, dir, nil, false, []string{"sh", "-c", "exit 2"}, []string{"sh", "-c", "touch never"})
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "never"))
}
