package testutil

import (
	"archive/tar"
	"bytes"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/environment"
)

// Environment returns an environment rooted in a temporary directory.
func Environment(t *testing.T, vars config.Map) *environment.Environment {
	t.Helper()
	home := t.TempDir()
	if vars == nil {
		vars = config.Map{}
	}
	return &environment.Environment{
		Home: home,
		Paths: environment.Paths{
			Deps:   filepath.Join(home, "deps"),
			Temp:   filepath.Join(home, "temp"),
			Models: []string{filepath.Join(home, "models")},
		},
		Vars: vars,
	}
}

// TarGz builds a gzipped tarball with every file below a single top-level
// directory "pkg", the way release archives are laid out.
func TarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "pkg/", Typeflag: tar.TypeDir, Mode: 0o755}))
	for _, name := range names {
		content := files[name]
		hdr := &tar.Header{Name: "pkg/" + name, Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(content))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}
