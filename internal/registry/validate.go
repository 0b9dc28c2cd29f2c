package registry

import (
	"errors"
	"fmt"

	"github.com/vk/mcubench/internal/dag"
	"github.com/vk/mcubench/internal/flow"
)

// Validate checks registration errors, that every feature a component
// declares exists and that the task graph can be ordered.
func (r *Registry) Validate() error {
	errs := append([]error(nil), r.errs...)

	check := func(kind string, specs []flow.Spec) {
		for _, spec := range specs {
			for _, name := range spec.Features {
				if r.Feature(name) == nil {
					errs = append(errs, fmt.Errorf("%w: %s %q declares feature %q", ErrUnknown, kind, spec.Name, name))
				}
			}
		}
	}
	check("frontend", r.frontends.specs())
	check("backend", r.backends.specs())
	check("compiler", r.compilers.specs())
	check("target", r.targets.specs())

	if _, err := r.TaskOrder(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TaskOrder returns the setup order of all registered tasks.
func (r *Registry) TaskOrder() ([]string, error) {
	return dag.Build(r.TaskNames(), r.Requirements(), r.Provisions())
}
