package registry

import (
	"context"
	"fmt"

	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/feature"
)

// NewFeatures instantiates the named features with their settings from cfg.
// Duplicate names are collapsed.
func (r *Registry) NewFeatures(ctx context.Context, names []string, cfg config.Map) ([]*feature.Feature, error) {
	seen := make(map[string]bool)
	var out []*feature.Feature
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		def := r.Feature(name)
		if def == nil {
			return nil, fmt.Errorf("%w: feature %q (available: %v)", ErrUnknown, name, r.FeatureNames())
		}
		f, err := feature.New(ctx, def, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
