// Package model locates ML model files and their optional metadata.
package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/mcubench/internal/fsutil"
)

// ErrNotFound is returned when no model file matches a name.
var ErrNotFound = errors.New("model not found")

// MetadataFile is the file name of a model's metadata inside its directory.
const MetadataFile = "definition.yml"

// Model is a reference to a model file on disk.
type Model struct {
	Name     string
	Path     string
	Format   string
	Metadata *Metadata
}

func (m *Model) String() string { return m.Name }

// Lookup resolves name to a model file. name may be a path to a file, or a
// model name searched in dirs as `<dir>/<name>/<name>.<format>` and then
// `<dir>/<name>.<format>`, trying formats in order.
func Lookup(name string, dirs, formats []string) (*Model, error) {
	if ext := strings.TrimPrefix(filepath.Ext(name), "."); ext != "" && fsutil.Exists(name) {
		return newModel(strings.TrimSuffix(filepath.Base(name), "."+ext), name, ext)
	}

	for _, dir := range dirs {
		for _, format := range formats {
			candidates := []string{
				filepath.Join(dir, name, name+"."+format),
				filepath.Join(dir, name+"."+format),
			}
			for _, path := range candidates {
				if fsutil.Exists(path) {
					return newModel(name, path, format)
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: %q (formats %v, searched %v)", ErrNotFound, name, formats, dirs)
}

func newModel(name, path, format string) (*Model, error) {
	m := &Model{Name: name, Path: path, Format: format}

	for _, candidate := range []string{
		filepath.Join(filepath.Dir(path), MetadataFile),
		strings.TrimSuffix(path, filepath.Ext(path)) + ".yml",
	} {
		if !fsutil.Exists(candidate) {
			continue
		}
		meta, err := LoadMetadata(candidate)
		if err != nil {
			return nil, err
		}
		m.Metadata = meta
		break
	}
	return m, nil
}

// Read returns the model file content.
func (m *Model) Read() ([]byte, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, fmt.Errorf("reading model %s: %w", m.Name, err)
	}
	return data, nil
}
