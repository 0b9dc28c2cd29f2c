// Package run implements the unit of work of a benchmarking session: one
// model bound to a frontend, backend, compiler and target, carried through
// the LOAD, BUILD, COMPILE, RUN and POSTPROCESS stages.
package run

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/vk/mcubench/internal/artifact"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/vk/mcubench/internal/feature"
	"github.com/vk/mcubench/internal/flow"
	"github.com/vk/mcubench/internal/metrics"
	"github.com/vk/mcubench/internal/model"
)

var (
	// ErrStageOrder is returned when a stage is requested out of order.
	ErrStageOrder = errors.New("stage out of order")
	// ErrConfigOverwrite is returned when a config key would silently change.
	ErrConfigOverwrite = errors.New("refusing to overwrite config key")
	// ErrMissingComponent is returned when a stage needs an unbound component.
	ErrMissingComponent = errors.New("component not bound")
	// ErrAlreadyUsed is returned when rebinding a component whose stage ran.
	ErrAlreadyUsed = errors.New("component already used by a completed stage")
)

// StageError is the terminal error of a run.
type StageError struct {
	Run   int
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("run %d failed in stage %s: %v", e.Run, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Components names the components bound to a run.
type Components struct {
	Frontend string `json:"frontend,omitempty"`
	Backend  string `json:"backend,omitempty"`
	Compiler string `json:"compiler,omitempty"`
	Target   string `json:"target,omitempty"`
}

// Run is safe for concurrent use; stage execution is serialized per run.
type Run struct {
	// exec serializes stages, mu guards the fields below.
	exec sync.Mutex
	mu   sync.Mutex

	Index int
	Model *model.Model

	names    Components
	features []*feature.Feature
	config   config.Map

	frontend flow.Frontend
	backend  flow.Backend
	compiler flow.Compiler
	target   flow.Target

	completed Stage
	err       error
	artifacts map[Stage]artifact.Buckets
	metrics   metrics.Buckets
}

// New creates an unbound run. Use a Binder to attach components.
func New(index int, m *model.Model, features []*feature.Feature, cfg config.Map) *Run {
	return &Run{
		Index:     index,
		Model:     m,
		features:  features,
		config:    cfg.Clone(),
		completed: StageNone,
		artifacts: make(map[Stage]artifact.Buckets),
	}
}

// Clone copies the run under a new index. The configuration, features and
// metrics are copied; the artifacts produced so far are shared history and
// bound components are shared since they are immutable. Mutations of the
// clone never reach the original.
func (r *Run) Clone(index int) *Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Run{
		Index:     index,
		Model:     r.Model,
		names:     r.names,
		features:  feature.CloneAll(r.features),
		config:    r.config.Clone(),
		frontend:  r.frontend,
		backend:   r.backend,
		compiler:  r.compiler,
		target:    r.target,
		completed: r.completed,
		err:       r.err,
		artifacts: make(map[Stage]artifact.Buckets, len(r.artifacts)),
		metrics:   r.metrics.Clone(),
	}
	for stage, buckets := range r.artifacts {
		c.artifacts[stage] = buckets.Clone()
	}
	return c
}

// SetConfig sets a config key. An existing different value is only replaced
// when override is set.
func (r *Run) SetConfig(key string, value any, override bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setConfig(key, value, override)
}

func (r *Run) setConfig(key string, value any, override bool) error {
	if old, ok := r.config[key]; ok && !override && config.ToString(old) != config.ToString(value) {
		return fmt.Errorf("%w %q on run %d (%v -> %v)", ErrConfigOverwrite, key, r.Index, old, value)
	}
	r.config[key] = value
	return nil
}

// Config returns a copy of the run configuration.
func (r *Run) Config() config.Map {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config.Clone()
}

// Features returns the run's feature names.
func (r *Run) Features() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return feature.Names(r.features)
}

// Components returns the names of the bound components.
func (r *Run) Components() Components {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.names
}

// Completed returns the last successfully completed stage.
func (r *Run) Completed() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Err returns the terminal error of the run, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Artifacts returns the artifact buckets produced by stage.
func (r *Run) Artifacts(stage Stage) artifact.Buckets {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.artifacts[stage].Clone()
}

// Metrics returns a copy of the current metrics.
func (r *Run) Metrics() metrics.Buckets {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics.Clone()
}

// Step executes stage, which must directly follow the last completed stage.
// Results are committed only when the stage succeeds. A failure is recorded
// as the run's terminal error.
func (r *Run) Step(ctx context.Context, stage Stage) error {
	r.exec.Lock()
	defer r.exec.Unlock()

	r.mu.Lock()
	if r.err != nil {
		err := r.err
		r.mu.Unlock()
		return err
	}
	if stage != r.completed+1 {
		completed := r.completed
		r.mu.Unlock()
		return fmt.Errorf("%w: run %d completed %s, cannot execute %s", ErrStageOrder, r.Index, completed, stage)
	}
	in := r.input()
	r.mu.Unlock()

	logger := ctxlog.FromContext(ctx).With("run", r.Index, "stage", stage.String())
	logger.Debug("Executing stage.")
	arts, mets, err := in.execute(ctxlog.WithLogger(ctx, logger), stage)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.err = &StageError{Run: r.Index, Stage: stage, Err: err}
		logger.Error("Stage failed.", "error", err)
		return r.err
	}
	if arts == nil {
		arts = artifact.Buckets{}
	}
	r.artifacts[stage] = arts
	if mets != nil {
		r.metrics = mets
	}
	r.completed = stage
	logger.Debug("Stage completed.")
	return nil
}

// Process executes every pending stage up to and including until.
func (r *Run) Process(ctx context.Context, until Stage) error {
	for _, stage := range Through(until) {
		if stage <= r.Completed() {
			continue
		}
		if err := r.Step(ctx, stage); err != nil {
			return err
		}
	}
	return nil
}

// stageInput is what a stage reads from its run. It is captured under the
// run's lock so the stage itself runs without holding it.
type stageInput struct {
	model     *model.Model
	frontend  flow.Frontend
	backend   flow.Backend
	compiler  flow.Compiler
	target    flow.Target
	features  []*feature.Feature
	artifacts map[Stage]artifact.Buckets
	metrics   metrics.Buckets
}

func (r *Run) input() stageInput {
	return stageInput{
		model:     r.Model,
		frontend:  r.frontend,
		backend:   r.backend,
		compiler:  r.compiler,
		target:    r.target,
		features:  r.features,
		artifacts: maps.Clone(r.artifacts),
		metrics:   r.metrics,
	}
}

func (in stageInput) execute(ctx context.Context, stage Stage) (artifact.Buckets, metrics.Buckets, error) {
	switch stage {
	case StageLoad:
		if in.frontend == nil {
			return nil, nil, fmt.Errorf("%w: frontend", ErrMissingComponent)
		}
		if in.model == nil {
			return nil, nil, errors.New("run has no model")
		}
		arts, err := in.frontend.Load(ctx, in.model)
		return arts, nil, err

	case StageBuild:
		if in.backend == nil {
			return nil, nil, fmt.Errorf("%w: backend", ErrMissingComponent)
		}
		arts, err := in.backend.Build(ctx, in.artifacts[StageLoad].Default())
		return arts, nil, err

	case StageCompile:
		if in.compiler == nil || in.target == nil {
			return nil, nil, fmt.Errorf("%w: compiler and target", ErrMissingComponent)
		}
		arts, err := in.compiler.Compile(ctx, in.artifacts[StageBuild].Default(), in.target)
		return arts, nil, err

	case StageRun:
		if in.target == nil {
			return nil, nil, fmt.Errorf("%w: target", ErrMissingComponent)
		}
		exe := artifact.Find(in.artifacts[StageCompile].Default(), artifact.FlagExecutable)
		if exe == nil {
			return nil, nil, errors.New("compile stage produced no executable")
		}
		return in.target.Generate(ctx, exe)

	case StagePostprocess:
		return in.postprocess()
	}
	return nil, nil, fmt.Errorf("%w: unknown stage %s", ErrStageOrder, stage)
}

func (in stageInput) postprocess() (artifact.Buckets, metrics.Buckets, error) {
	out := in.metrics.Clone()
	if out == nil {
		out = metrics.Buckets{}
	}
	for _, f := range feature.Matching(in.features, feature.Postprocess) {
		fn := f.Definition().Postprocess
		if fn == nil {
			continue
		}
		for _, label := range out.Labels() {
			if err := fn(f, out[label]); err != nil {
				return nil, nil, fmt.Errorf("postprocess %s: %w", f.Name(), err)
			}
		}
	}
	arts := artifact.Buckets{}
	for _, label := range out.Labels() {
		arts.Add(label, artifact.NewTable("metrics.csv", out[label].ToCSV(true), artifact.FlagMetrics))
	}
	return arts, out, nil
}

// Snapshot is a point-in-time copy of a run's state.
type Snapshot struct {
	Index      int
	Model      *model.Model
	Components Components
	Features   []string
	Config     config.Map
	Completed  Stage
	Err        error
	Artifacts  map[Stage]artifact.Buckets
	Metrics    metrics.Buckets
}

// Snapshot returns a copy of the run's state.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	arts := make(map[Stage]artifact.Buckets, len(r.artifacts))
	for stage, buckets := range r.artifacts {
		arts[stage] = buckets.Clone()
	}
	return Snapshot{
		Index:      r.Index,
		Model:      r.Model,
		Components: r.names,
		Features:   feature.Names(r.features),
		Config:     r.config.Clone(),
		Completed:  r.completed,
		Err:        r.err,
		Artifacts:  arts,
		Metrics:    r.metrics.Clone(),
	}
}

// Restore sets the progress of a freshly bound run from a checkpoint. The
// terminal error is not restored so a resumed run retries its failed stage.
func (r *Run) Restore(completed Stage, arts map[Stage]artifact.Buckets, mets metrics.Buckets) {
	r.exec.Lock()
	defer r.exec.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = completed
	r.err = nil
	r.artifacts = make(map[Stage]artifact.Buckets, len(arts))
	for stage, buckets := range arts {
		r.artifacts[stage] = buckets.Clone()
	}
	r.metrics = mets.Clone()
}
