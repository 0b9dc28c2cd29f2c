package registry

import (
	"errors"
	"fmt"
	"slices"

	"github.com/vk/mcubench/internal/feature"
	"github.com/vk/mcubench/internal/flow"
)

var (
	// ErrUnknown is returned when a name does not match any registration.
	ErrUnknown = errors.New("unknown name")
	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("duplicate registration")
)

// Module is the interface that all core modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Component is a registered pipeline component.
type Component[T any] struct {
	Spec flow.Spec
	New  flow.Factory[T]
}

// Registry holds all the registered tasks, features and components for a
// single application instance.
type Registry struct {
	tasks     []*Task
	features  []*feature.Definition
	frontends componentSet[flow.Frontend]
	backends  componentSet[flow.Backend]
	compilers componentSet[flow.Compiler]
	targets   componentSet[flow.Target]
	errs      []error
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		frontends: newComponentSet[flow.Frontend]("frontend"),
		backends:  newComponentSet[flow.Backend]("backend"),
		compilers: newComponentSet[flow.Compiler]("compiler"),
		targets:   newComponentSet[flow.Target]("target"),
	}
}

// Build creates a registry from modules and validates it.
func Build(modules ...Module) (*Registry, error) {
	r := New()
	for _, m := range modules {
		m.Register(r)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// RegisterFeature adds a feature definition.
func (r *Registry) RegisterFeature(def *feature.Definition) {
	if r.Feature(def.Name) != nil {
		r.errs = append(r.errs, fmt.Errorf("%w: feature %q", ErrDuplicate, def.Name))
		return
	}
	r.features = append(r.features, def)
}

// Feature returns a feature definition by name, or nil.
func (r *Registry) Feature(name string) *feature.Definition {
	i := slices.IndexFunc(r.features, func(d *feature.Definition) bool { return d.Name == name })
	if i < 0 {
		return nil
	}
	return r.features[i]
}

// FeatureNames lists features in registration order.
func (r *Registry) FeatureNames() []string {
	names := make([]string, len(r.features))
	for i, d := range r.features {
		names[i] = d.Name
	}
	return names
}

// RegisterFrontend adds a frontend.
func (r *Registry) RegisterFrontend(spec flow.Spec, fn flow.Factory[flow.Frontend]) {
	r.record(r.frontends.add(spec, fn))
}

// RegisterBackend adds a backend.
func (r *Registry) RegisterBackend(spec flow.Spec, fn flow.Factory[flow.Backend]) {
	r.record(r.backends.add(spec, fn))
}

// RegisterCompiler adds a compiler.
func (r *Registry) RegisterCompiler(spec flow.Spec, fn flow.Factory[flow.Compiler]) {
	r.record(r.compilers.add(spec, fn))
}

// RegisterTarget adds a target.
func (r *Registry) RegisterTarget(spec flow.Spec, fn flow.Factory[flow.Target]) {
	r.record(r.targets.add(spec, fn))
}

// Frontend returns a registered frontend.
func (r *Registry) Frontend(name string) (*Component[flow.Frontend], error) {
	return r.frontends.get(name)
}

// Backend returns a registered backend.
func (r *Registry) Backend(name string) (*Component[flow.Backend], error) {
	return r.backends.get(name)
}

// Compiler returns a registered compiler.
func (r *Registry) Compiler(name string) (*Component[flow.Compiler], error) {
	return r.compilers.get(name)
}

// Target returns a registered target.
func (r *Registry) Target(name string) (*Component[flow.Target], error) {
	return r.targets.get(name)
}

// FrontendNames lists frontends in registration order.
func (r *Registry) FrontendNames() []string { return r.frontends.names() }

// BackendNames lists backends in registration order.
func (r *Registry) BackendNames() []string { return r.backends.names() }

// CompilerNames lists compilers in registration order.
func (r *Registry) CompilerNames() []string { return r.compilers.names() }

// TargetNames lists targets in registration order.
func (r *Registry) TargetNames() []string { return r.targets.names() }

func (r *Registry) record(err error) {
	if err != nil {
		r.errs = append(r.errs, err)
	}
}

type componentSet[T any] struct {
	kind  string
	order []string
	items map[string]*Component[T]
}

func newComponentSet[T any](kind string) componentSet[T] {
	return componentSet[T]{kind: kind, items: make(map[string]*Component[T])}
}

func (s *componentSet[T]) add(spec flow.Spec, fn flow.Factory[T]) error {
	if _, ok := s.items[spec.Name]; ok {
		return fmt.Errorf("%w: %s %q", ErrDuplicate, s.kind, spec.Name)
	}
	s.items[spec.Name] = &Component[T]{Spec: spec, New: fn}
	s.order = append(s.order, spec.Name)
	return nil
}

func (s *componentSet[T]) get(name string) (*Component[T], error) {
	c, ok := s.items[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s %q (available: %v)", ErrUnknown, s.kind, name, s.order)
	}
	return c, nil
}

func (s *componentSet[T]) names() []string { return slices.Clone(s.order) }

func (s *componentSet[T]) specs() []flow.Spec {
	out := make([]flow.Spec, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.items[name].Spec)
	}
	return out
}
