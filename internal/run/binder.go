package run

import (
	"context"
	"fmt"

	"github.com/vk/mcubench/internal/cache"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/feature"
	"github.com/vk/mcubench/internal/model"
	"github.com/vk/mcubench/internal/registry"
)

// Binder constructs the components of runs. Every required key of a
// component is resolved when the component is bound, so a missing
// dependency fails here and never in the middle of a stage.
type Binder struct {
	Registry *registry.Registry
	// Cache may be nil when setup never ran.
	Cache *cache.Cache
}

// NewRun creates a run with its features and binds the named components.
func (b *Binder) NewRun(ctx context.Context, index int, m *model.Model, features []string, cfg config.Map, names Components) (*Run, error) {
	fs, err := b.Registry.NewFeatures(ctx, features, cfg)
	if err != nil {
		return nil, err
	}
	r := New(index, m, fs, cfg)
	if err := b.Bind(ctx, r, names); err != nil {
		return nil, err
	}
	return r, nil
}

// Bind attaches the non-empty components of names to r. A component can only
// be replaced while the stage that consumes it has not completed.
func (b *Binder) Bind(ctx context.Context, r *Run, names Components) error {
	r.exec.Lock()
	defer r.exec.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if names.Frontend != "" {
		if err := r.checkUnused("frontend", StageLoad); err != nil {
			return err
		}
		c, err := b.Registry.Frontend(names.Frontend)
		if err != nil {
			return err
		}
		fe, err := bind(ctx, b, r, "frontend", c, feature.Frontend)
		if err != nil {
			return err
		}
		r.frontend, r.names.Frontend = fe, names.Frontend
	}
	if names.Backend != "" {
		if err := r.checkUnused("backend", StageBuild); err != nil {
			return err
		}
		c, err := b.Registry.Backend(names.Backend)
		if err != nil {
			return err
		}
		if r.Model != nil {
			for k, v := range r.Model.Metadata.BackendConfig(names.Backend) {
				if !r.config.Has(k) {
					r.config[k] = v
				}
			}
		}
		be, err := bind(ctx, b, r, "backend", c, feature.Backend)
		if err != nil {
			return err
		}
		r.backend, r.names.Backend = be, names.Backend
	}
	if names.Target != "" {
		if err := r.checkUnused("target", StageCompile); err != nil {
			return err
		}
		c, err := b.Registry.Target(names.Target)
		if err != nil {
			return err
		}
		t, err := bind(ctx, b, r, "target", c, feature.Target)
		if err != nil {
			return err
		}
		r.target, r.names.Target = t, names.Target
	}
	if names.Compiler != "" {
		if err := r.checkUnused("compiler", StageCompile); err != nil {
			return err
		}
		c, err := b.Registry.Compiler(names.Compiler)
		if err != nil {
			return err
		}
		cc, err := bind(ctx, b, r, "compiler", c, feature.Compile)
		if err != nil {
			return err
		}
		r.compiler, r.names.Compiler = cc, names.Compiler
	}
	return nil
}

func (r *Run) checkUnused(kind string, consumer Stage) error {
	if r.completed >= consumer {
		return fmt.Errorf("%w: run %d %s (completed %s)", ErrAlreadyUsed, r.Index, kind, r.completed)
	}
	return nil
}

// bind resolves the component's required keys into the run config, filters
// the config to the component's view, applies feature settings and calls the
// factory. r.mu must be held.
func bind[T any](ctx context.Context, b *Binder, r *Run, kind string, c *registry.Component[T], category feature.Category) (T, error) {
	var zero T
	spec := c.Spec

	resolved, err := config.ResolveRequired(spec.Required, feature.CacheFlags(r.features), r.config, b.Cache)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", kind, spec.Name, err)
	}
	for k, v := range resolved {
		if err := r.setConfig(k, v, false); err != nil {
			return zero, err
		}
	}

	if err := feature.CheckSupported(r.features, category, spec.Name, spec.Features); err != nil {
		return zero, err
	}
	cfg, err := config.Filter(ctx, r.config, spec.Name, spec.Defaults, spec.Optional, spec.Required)
	if err != nil {
		return zero, err
	}
	matching := feature.Matching(r.features, category)
	for _, f := range matching {
		if apply := f.Definition().ApplyConfig; apply != nil {
			if err := apply(f, kind, spec.Name, cfg); err != nil {
				return zero, fmt.Errorf("feature %s on %s %s: %w", f.Name(), kind, spec.Name, err)
			}
		}
	}

	component, err := c.New(ctx, cfg, matching)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", kind, spec.Name, err)
	}
	return component, nil
}
