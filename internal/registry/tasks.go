package registry

import (
	"context"
	"fmt"
	"slices"

	"github.com/vk/mcubench/internal/cache"
	"github.com/vk/mcubench/internal/environment"
)

// TaskContext is the shared state handed to every task action.
type TaskContext struct {
	Env   *environment.Environment
	Cache *cache.Cache
}

// TaskOptions are per-invocation settings of a task action.
type TaskOptions struct {
	// Flags is the variant being installed. Cache entries written by the
	// action must use these flags.
	Flags   []string
	Rebuild bool
	Verbose bool
}

// Task is a named unit of dependency installation.
type Task struct {
	Name string
	// Provides lists the cache keys the task writes.
	Provides []string
	// Requires lists task names or cache keys the task needs first.
	Requires []string
	// Variants lists the flag sets to install. Empty means one run with no flags.
	Variants [][]string
	// Validate decides whether a variant is needed in this environment.
	// A nil Validate always runs.
	Validate func(env *environment.Environment, flags []string) bool
	Action   func(ctx context.Context, tc *TaskContext, opts TaskOptions) error
}

// VariantList returns the variants, defaulting to a single empty flag set.
func (t *Task) VariantList() [][]string {
	if len(t.Variants) == 0 {
		return [][]string{{}}
	}
	return t.Variants
}

// RegisterTask adds a task. Tasks cannot change after registration.
func (r *Registry) RegisterTask(t Task) {
	if t.Name == "" || t.Action == nil {
		r.errs = append(r.errs, fmt.Errorf("task %q: name and action are required", t.Name))
		return
	}
	if r.Task(t.Name) != nil {
		r.errs = append(r.errs, fmt.Errorf("%w: task %q", ErrDuplicate, t.Name))
		return
	}
	t.Provides = slices.Clone(t.Provides)
	t.Requires = slices.Clone(t.Requires)
	r.tasks = append(r.tasks, &t)
}

// Task returns a task by name, or nil.
func (r *Registry) Task(name string) *Task {
	i := slices.IndexFunc(r.tasks, func(t *Task) bool { return t.Name == name })
	if i < 0 {
		return nil
	}
	return r.tasks[i]
}

// TaskNames lists tasks in registration order.
func (r *Registry) TaskNames() []string {
	names := make([]string, len(r.tasks))
	for i, t := range r.tasks {
		names[i] = t.Name
	}
	return names
}

// Requirements maps each task to what it requires. It is derived on every
// call.
func (r *Registry) Requirements() map[string][]string {
	out := make(map[string][]string, len(r.tasks))
	for _, t := range r.tasks {
		out[t.Name] = slices.Clone(t.Requires)
	}
	return out
}

// Provisions maps each task to the cache keys it provides. It is derived
// on every call.
func (r *Registry) Provisions() map[string][]string {
	out := make(map[string][]string, len(r.tasks))
	for _, t := range r.tasks {
		out[t.Name] = slices.Clone(t.Provides)
	}
	return out
}
