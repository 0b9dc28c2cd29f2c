package frontends

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/mcubench/internal/artifact"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/flow"
	"github.com/vk/mcubench/internal/model"
	"github.com/vk/mcubench/internal/registry"
	"github.com/vk/mcubench/internal/testutil"
)

const metadata = `
description: keyword spotting
backends:
  tvmaot:
    arena_size: 20000
`

func newFrontend(t *testing.T, name string, cfg config.Map) flow.Frontend {
	t.Helper()
	ctx, _ := testutil.Context(t)
	r, err := registry.Build(&Module{})
	require.NoError(t, err)
	c, err := r.Frontend(name)
	require.NoError(t, err)
	full := c.Spec.Defaults.Clone()
	for k, v := range cfg {
		full[k] = v
	}
	fe, err := c.New(ctx, full, nil)
	require.NoError(t, err)
	return fe
}

func writeModel(t *testing.T, name, format string, data []byte, meta string) *model.Model {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+"."+format), data, 0o644))
	if meta != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, model.MetadataFile), []byte(meta), 0o644))
	}
	m, err := model.Lookup(name, []string{filepath.Dir(dir)}, []string{format})
	require.NoError(t, err)
	return m
}

func TestLoad_TFLite(t *testing.T) {
	// --- Arrange ---
	ctx, _ := testutil.Context(t)
	data := append([]byte{0x1c, 0, 0, 0}, []byte("TFL3 rest of flatbuffer")...)
	m := writeModel(t, "kws", TFLite, data, metadata)

	// --- Act ---
	arts, err := newFrontend(t, TFLite, nil).Load(ctx, m)

	// --- Assert ---
	require.NoError(t, err)
	modelArt := artifact.Find(arts.Default(), artifact.FlagModel)
	require.NotNil(t, modelArt)
	assert.Equal(t, "kws.tflite", modelArt.Name)
	assert.Equal(t, data, modelArt.Content)

	meta := artifact.FindByName(arts.Default(), "kws.yml")
	require.NotNil(t, meta)
	assert.Contains(t, meta.Text(), "arena_size: 20000")
}

func TestLoad_Errors(t *testing.T) {
	ctx, _ := testutil.Context(t)

	_, err := newFrontend(t, TFLite, nil).Load(ctx, writeModel(t, "bad", TFLite, []byte("not a flatbuffer"), ""))
	assert.ErrorContains(t, err, "not a TFLite flatbuffer")

	_, err = newFrontend(t, TFLite, nil).Load(ctx, writeModel(t, "net", ONNX, []byte{0x08, 0x07}, ""))
	assert.ErrorContains(t, err, "cannot load onnx model net")

	_, err = newFrontend(t, ONNX, nil).Load(ctx, writeModel(t, "empty", ONNX, nil, ""))
	assert.ErrorContains(t, err, "empty onnx file")
}

func TestLoad_WithoutMetadata(t *testing.T) {
	ctx, _ := testutil.Context(t)
	m := writeModel(t, "net", ONNX, []byte{0x08, 0x07}, metadata)

	arts, err := newFrontend(t, ONNX, config.Map{"use_metadata": "false"}).Load(ctx, m)

	require.NoError(t, err)
	assert.Len(t, arts.Default(), 1)
}
