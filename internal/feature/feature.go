// Package feature implements capability toggles. A feature declares a static
// set of categories at registration; pipeline components only ever see the
// features whose category set contains their own category.
package feature

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vk/mcubench/internal/artifact"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/metrics"
)

// ErrIncompatible is returned when a component is handed a feature of its
// category that it does not support.
var ErrIncompatible = errors.New("incompatible feature")

// Category is a bit set of capability categories.
type Category uint16

const (
	Setup Category = 1 << iota
	Frontend
	Backend
	Compile
	Target
	Postprocess
)

var categoryNames = []struct {
	c    Category
	name string
}{
	{Setup, "setup"}, {Frontend, "frontend"}, {Backend, "backend"},
	{Compile, "compile"}, {Target, "target"}, {Postprocess, "postprocess"},
}

// Has reports whether every bit of other is set.
func (c Category) Has(other Category) bool { return c&other == other }

func (c Category) String() string {
	var parts []string
	for _, cn := range categoryNames {
		if c.Has(cn.c) {
			parts = append(parts, cn.name)
		}
	}
	return strings.Join(parts, "|")
}

// PreCallback returns the arguments for one target invocation. scratchDir
// is a fresh directory owned by that invocation.
type PreCallback func(scratchDir string, args []string) []string

// PostCallback runs after all invocations of a target. It receives the last
// invocation's output, the metrics of every invocation and the produced
// artifacts, and may rewrite all three. Reducing metrics to a single entry
// is its job when a target repeats.
type PostCallback func(out string, collected []*metrics.Metrics, arts []*artifact.Artifact) (string, []*metrics.Metrics, []*artifact.Artifact, error)

// Definition is the registered, immutable description of a feature.
type Definition struct {
	Name       string
	Categories Category
	// Defaults are the feature's own settings, read from `<name>.<key>`.
	Defaults config.Map
	// CacheFlags adds flags to dependency cache lookups, keyed by cache key.
	CacheFlags func(f *Feature, flags map[string][]string)
	// ApplyConfig adjusts the filtered config of a component of the given
	// kind ("backend", "target", ...) and name.
	ApplyConfig func(f *Feature, kind, component string, cfg config.Map) error
	// TargetCallbacks returns execution callbacks for a target.
	TargetCallbacks func(f *Feature, target string) ([]PreCallback, []PostCallback, error)
	// Postprocess rewrites a metrics bucket after the RUN stage.
	Postprocess func(f *Feature, m *metrics.Metrics) error
}

// Feature is a definition bound to its configuration.
type Feature struct {
	def    *Definition
	Config config.Map
}

// New instantiates def, pulling `<name>.<key>` settings out of cfg.
func New(ctx context.Context, def *Definition, cfg config.Map) (*Feature, error) {
	keys := make([]string, 0, len(def.Defaults))
	for k := range def.Defaults {
		keys = append(keys, k)
	}
	own, err := config.Filter(ctx, cfg, def.Name, def.Defaults, keys, nil)
	if err != nil {
		return nil, fmt.Errorf("feature %s: %w", def.Name, err)
	}
	return &Feature{def: def, Config: own}, nil
}

// Name returns the feature name.
func (f *Feature) Name() string { return f.def.Name }

// Categories returns the feature's category set.
func (f *Feature) Categories() Category { return f.def.Categories }

// Is reports whether the feature belongs to category c.
func (f *Feature) Is(c Category) bool { return f.def.Categories.Has(c) }

// Definition returns the feature's definition.
func (f *Feature) Definition() *Definition { return f.def }

// Clone returns a copy with its own configuration.
func (f *Feature) Clone() *Feature {
	return &Feature{def: f.def, Config: f.Config.Clone()}
}

// Matching filters features by category, keeping order.
func Matching(features []*Feature, c Category) []*Feature {
	var out []*Feature
	for _, f := range features {
		if f.Is(c) {
			out = append(out, f)
		}
	}
	return out
}

// Names returns the feature names in order.
func Names(features []*Feature) []string {
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = f.Name()
	}
	return names
}

// CloneAll clones every feature.
func CloneAll(features []*Feature) []*Feature {
	out := make([]*Feature, len(features))
	for i, f := range features {
		out[i] = f.Clone()
	}
	return out
}

// CacheFlags collects the cache flags requested by the setup features.
func CacheFlags(features []*Feature) map[string][]string {
	flags := make(map[string][]string)
	for _, f := range Matching(features, Setup) {
		if f.def.CacheFlags != nil {
			f.def.CacheFlags(f, flags)
		}
	}
	return flags
}

// CheckSupported returns ErrIncompatible if a feature of category c is not
// listed in supported.
func CheckSupported(features []*Feature, c Category, component string, supported []string) error {
	for _, f := range Matching(features, c) {
		if !slices.Contains(supported, f.Name()) {
			return fmt.Errorf("%w: %s does not support %s", ErrIncompatible, component, f.Name())
		}
	}
	return nil
}
