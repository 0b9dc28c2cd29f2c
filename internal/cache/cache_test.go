package cache

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey_NormalizesFlags(t *testing.T) {
	a := NewKey("spike.exe", "vext", "debug")
	b := NewKey("spike.exe", "debug", "vext", "debug", " ")

	assert.Equal(t, a, b)
	assert.Equal(t, []string{"debug", "vext"}, a.Flags())
	assert.Empty(t, NewKey("spike.exe").Flags())
}

func TestCache_SetGet(t *testing.T) {
	c := New()
	require.NoError(t, c.Set("llvm.install_dir", nil, "/deps/llvm"))
	require.NoError(t, c.Set("spike.exe", []string{"vext"}, "/deps/spike-vext"))

	v, ok := c.Get("llvm.install_dir")
	require.True(t, ok)
	assert.Equal(t, "/deps/llvm", v)

	v, ok = c.Get("spike.exe", "vext")
	require.True(t, ok)
	assert.Equal(t, "/deps/spike-vext", v)

	assert.False(t, c.Has("spike.exe"), "flags are part of the key")
	assert.Equal(t, 2, c.Len())
}

func TestCache_SetRejectsNonScalars(t *testing.T) {
	c := New()
	err := c.Set("bad", nil, []string{"x"})
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.Error(t, c.Set("bad", nil, v), "%v", v)
	}
	assert.Error(t, c.Set("bad", nil, float32(math.Inf(1))))
	assert.Equal(t, 0, c.Len())

	require.NoError(t, c.Set("ratio", nil, 0.5))
	_, err = c.Encode()
	assert.NoError(t, err, "every stored value can be written")
}

func TestCache_Lookup(t *testing.T) {
	t.Run("empty cache is distinct from a miss", func(t *testing.T) {
		_, err := New().Lookup("llvm.install_dir")
		require.ErrorIs(t, err, ErrEmptyCache)
		assert.False(t, errors.Is(err, ErrMiss))
	})

	t.Run("miss names the key", func(t *testing.T) {
		c := New()
		require.NoError(t, c.Set("llvm.install_dir", nil, "/deps/llvm"))

		_, err := c.Lookup("spike.exe", "vext")
		require.ErrorIs(t, err, ErrMiss)

		var miss *MissError
		require.ErrorAs(t, err, &miss)
		assert.Equal(t, "spike.exe", miss.Key.Name)
		assert.Contains(t, err.Error(), "re-running")
	})

	t.Run("hit", func(t *testing.T) {
		c := New()
		require.NoError(t, c.Set("tvm.pythonpath", nil, "/deps/tvm"))
		v, err := c.Lookup("tvm.pythonpath")
		require.NoError(t, err)
		assert.Equal(t, "/deps/tvm", v)
	})
}

func TestCache_FileRoundTrip(t *testing.T) {
	// --- Arrange ---
	c := New()
	require.NoError(t, c.Set("llvm.install_dir", nil, "/deps/install/llvm"))
	require.NoError(t, c.Set("spike.exe", []string{"vext"}, "/deps/spike/vext/spike"))
	require.NoError(t, c.Set("riscv_gcc.multilib", []string{"vext", "debug"}, true))
	require.NoError(t, c.Set("tvm.build_jobs", nil, 8))
	require.NoError(t, c.Set("tvm.ratio", nil, 2.0))
	require.NoError(t, c.Set("tvm.scale", nil, 0.25))
	path := filepath.Join(t.TempDir(), FileName)

	// --- Act ---
	require.NoError(t, c.WriteFile(path))
	loaded, err := ReadFile(path)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, c.Entries(), loaded.Entries())

	v, ok := loaded.Get("riscv_gcc.multilib", "debug", "vext")
	require.True(t, ok)
	assert.Equal(t, true, v)

	v, _ = loaded.Get("tvm.build_jobs")
	assert.Equal(t, int64(8), v)
	v, _ = loaded.Get("tvm.ratio")
	assert.Equal(t, 2.0, v)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `entry "llvm.install_dir"`)
}

func TestReadFile_MissingIsEmpty(t *testing.T) {
	c, err := ReadFile(filepath.Join(t.TempDir(), "nope.hcl"))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())

	_, err = c.Lookup("anything")
	assert.ErrorIs(t, err, ErrEmptyCache)
}

func TestDecode_InvalidFile(t *testing.T) {
	_, err := Decode([]byte(`entry "x" {`), "cache.hcl")
	assert.ErrorContains(t, err, "failed to parse")
}
