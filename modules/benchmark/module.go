// Package benchmark provides the measurement features shared by all targets:
// repeated runs with aggregation and metric column filtering.
package benchmark

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vk/mcubench/internal/artifact"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/feature"
	"github.com/vk/mcubench/internal/metrics"
	"github.com/vk/mcubench/internal/registry"
)

const (
	// FeatureName repeats the program and aggregates the metrics.
	FeatureName = "benchmark"
	// FilterColsName keeps only the listed metric columns.
	FilterColsName = "filter_cols"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the features.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterFeature(&feature.Definition{
		Name:        FeatureName,
		Categories:  feature.Target,
		Defaults:    config.Map{"num_runs": 1, "aggregate": "avg"},
		ApplyConfig: applyRepeat,
		TargetCallbacks: func(f *feature.Feature, _ string) ([]feature.PreCallback, []feature.PostCallback, error) {
			name := strings.ToLower(f.Config.String("aggregate"))
			fn, ok := metrics.Reducers[name]
			if !ok {
				return nil, nil, fmt.Errorf("unknown aggregate %q (available: %v)", name, reducerNames())
			}
			return nil, []feature.PostCallback{reduceWith(fn)}, nil
		},
	})

	r.RegisterFeature(&feature.Definition{
		Name:       FilterColsName,
		Categories: feature.Postprocess,
		Defaults:   config.Map{"keep": ""},
		Postprocess: func(f *feature.Feature, m *metrics.Metrics) error {
			if cols := f.Config.List("keep"); len(cols) > 0 {
				m.Keep(cols)
			}
			return nil
		},
	})
}

// applyRepeat turns num_runs into the target's repeat count.
func applyRepeat(f *feature.Feature, kind, _ string, cfg config.Map) error {
	if kind != "target" {
		return nil
	}
	n, err := f.Config.Int("num_runs")
	if err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("num_runs must be at least 1, got %d", n)
	}
	cfg["repeat"] = n - 1
	return nil
}

func reduceWith(fn metrics.Reducer) feature.PostCallback {
	return func(out string, collected []*metrics.Metrics, arts []*artifact.Artifact) (string, []*metrics.Metrics, []*artifact.Artifact, error) {
		if len(collected) <= 1 {
			return out, collected, arts, nil
		}
		return out, []*metrics.Metrics{metrics.Reduce(collected, fn)}, arts, nil
	}
}

func reducerNames() []string {
	names := make([]string, 0, len(metrics.Reducers))
	for name := range metrics.Reducers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
