// Package frontends registers the model file frontends. They hand the raw
// model to the backends, which run the actual import.
package frontends

import (
	"context"
	"fmt"
	"slices"

	"github.com/vk/mcubench/internal/artifact"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/vk/mcubench/internal/feature"
	"github.com/vk/mcubench/internal/flow"
	"github.com/vk/mcubench/internal/model"
	"github.com/vk/mcubench/internal/registry"
	"gopkg.in/yaml.v3"
)

const (
	// TFLite is the TensorFlow Lite flatbuffer frontend.
	TFLite = "tflite"
	// ONNX is the ONNX protobuf frontend.
	ONNX = "onnx"
)

// tfliteIdentifier is the flatbuffer file identifier at offset 4.
const tfliteIdentifier = "TFL3"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the frontends.
func (m *Module) Register(r *registry.Registry) {
	for _, name := range []string{TFLite, ONNX} {
		spec := flow.Spec{
			Name:     name,
			Formats:  []string{name},
			Defaults: config.Map{"use_metadata": true},
		}
		r.RegisterFrontend(spec, func(_ context.Context, cfg config.Map, _ []*feature.Feature) (flow.Frontend, error) {
			useMetadata, err := cfg.Bool("use_metadata")
			if err != nil {
				return nil, err
			}
			return &Frontend{name: spec.Name, formats: spec.Formats, useMetadata: useMetadata}, nil
		})
	}
}

// Frontend loads model files of its formats.
type Frontend struct {
	name        string
	formats     []string
	useMetadata bool
}

// Name returns the frontend name.
func (f *Frontend) Name() string { return f.name }

// Load returns the model file as a model artifact and, when present, the
// model metadata as YAML.
func (f *Frontend) Load(ctx context.Context, m *model.Model) (artifact.Buckets, error) {
	logger := ctxlog.FromContext(ctx).With("frontend", f.name, "model", m.Name)
	if !slices.Contains(f.formats, m.Format) {
		return nil, fmt.Errorf("frontend %s cannot load %s model %s (formats %v)", f.name, m.Format, m.Name, f.formats)
	}
	data, err := m.Read()
	if err != nil {
		return nil, err
	}
	if err := f.check(data); err != nil {
		return nil, fmt.Errorf("model %s: %w", m.Name, err)
	}

	arts := artifact.Buckets{}
	arts.Add(artifact.DefaultBucket, artifact.NewBinary(m.Name+"."+m.Format, data, artifact.FlagModel))
	if f.useMetadata && m.Metadata != nil {
		meta, err := yaml.Marshal(m.Metadata.Raw)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata of %s: %w", m.Name, err)
		}
		arts.Add(artifact.DefaultBucket, artifact.NewText(m.Name+".yml", string(meta)))
	}
	logger.Debug("Model loaded.", "bytes", len(data))
	return arts, nil
}

func (f *Frontend) check(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty %s file", f.name)
	}
	if f.name == TFLite && (len(data) < 8 || string(data[4:8]) != tfliteIdentifier) {
		return fmt.Errorf("not a TFLite flatbuffer (missing %s identifier)", tfliteIdentifier)
	}
	return nil
}
