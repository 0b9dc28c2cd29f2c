package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Metadata is the optional YAML description shipped next to a model.
type Metadata struct {
	Author      string   `yaml:"author"`
	Description string   `yaml:"description"`
	Version     string   `yaml:"version"`
	Comment     string   `yaml:"comment"`
	References  []string `yaml:"references"`
	Network     struct {
		Inputs  []Tensor `yaml:"inputs"`
		Outputs []Tensor `yaml:"outputs"`
	} `yaml:"network_parameters"`
	// BackendOptions holds per-backend defaults, for example the arena size
	// a model needs with tvmaot.
	BackendOptions map[string]map[string]any `yaml:"backends"`
	// Raw is the full document, for fields without a typed accessor.
	Raw map[string]any `yaml:"-"`
}

// Tensor describes a model input or output.
type Tensor struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"dtype"`
	Shape []int  `yaml:"shape"`
}

// LoadMetadata parses a metadata file.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model metadata: %w", err)
	}
	return ParseMetadata(data)
}

// ParseMetadata parses metadata YAML.
func ParseMetadata(data []byte) (*Metadata, error) {
	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing model metadata: %w", err)
	}
	if err := yaml.Unmarshal(data, &meta.Raw); err != nil {
		return nil, fmt.Errorf("parsing model metadata: %w", err)
	}
	return &meta, nil
}

// BackendConfig returns the options for backend keyed `<backend>.<key>`.
func (m *Metadata) BackendConfig(backend string) map[string]any {
	if m == nil {
		return nil
	}
	opts := m.BackendOptions[backend]
	if len(opts) == 0 {
		return nil
	}
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		out[backend+"."+k] = v
	}
	return out
}
