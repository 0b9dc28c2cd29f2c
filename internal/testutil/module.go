package testutil

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/vk/mcubench/internal/artifact"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/feature"
	"github.com/vk/mcubench/internal/flow"
	"github.com/vk/mcubench/internal/metrics"
	"github.com/vk/mcubench/internal/model"
	"github.com/vk/mcubench/internal/registry"
	"github.com/vk/mcubench/internal/target"
)

// Names of the components registered by FakeModule.
const (
	FakeFrontend = "fake_frontend"
	FakeCompiler = "fake_cc"
	FakeTarget   = "fake_target"
	FakeReduce   = "fake_avg"
	FakeFormat   = "fake"
)

// FakeModule registers a deterministic frontend, one backend per name in
// Backends, a compiler and a target. It records every stage it executes.
type FakeModule struct {
	// Backends defaults to A and B.
	Backends []string
	// BuildDelay delays the BUILD stage of a backend.
	BuildDelay map[string]time.Duration
	// FailBackends fail their BUILD stage.
	FailBackends []string
	// TargetRequired lists the fully qualified keys the target requires.
	TargetRequired []string

	mu    sync.Mutex
	calls []string
}

// Calls returns the executed stages as "<STAGE>:<component>" in completion order.
func (m *FakeModule) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns how many stages were executed.
func (m *FakeModule) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *FakeModule) record(stage, component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, stage+":"+component)
}

// Register implements registry.Module.
func (m *FakeModule) Register(r *registry.Registry) {
	backends := m.Backends
	if len(backends) == 0 {
		backends = []string{"A", "B"}
	}

	r.RegisterFrontend(flow.Spec{Name: FakeFrontend, Formats: []string{FakeFormat}},
		func(context.Context, config.Map, []*feature.Feature) (flow.Frontend, error) {
			return &fakeFrontend{m: m}, nil
		})

	for _, name := range backends {
		r.RegisterBackend(flow.Spec{Name: name, Defaults: config.Map{"opt_level": "2"}},
			func(_ context.Context, cfg config.Map, _ []*feature.Feature) (flow.Backend, error) {
				return &fakeBackend{m: m, name: name, opt: cfg.String("opt_level")}, nil
			})
	}

	r.RegisterCompiler(flow.Spec{Name: FakeCompiler},
		func(context.Context, config.Map, []*feature.Feature) (flow.Compiler, error) {
			return &fakeCompiler{m: m}, nil
		})

	r.RegisterTarget(flow.Spec{Name: FakeTarget, Features: []string{FakeReduce}, Defaults: target.Defaults, Required: m.TargetRequired},
		func(_ context.Context, cfg config.Map, features []*feature.Feature) (flow.Target, error) {
			t := &fakeTarget{m: m}
			base, err := target.NewBase(FakeTarget, cfg, features, t)
			if err != nil {
				return nil, err
			}
			t.Base = base
			return t, nil
		})

	r.RegisterFeature(&feature.Definition{
		Name:       FakeReduce,
		Categories: feature.Target,
		TargetCallbacks: func(*feature.Feature, string) ([]feature.PreCallback, []feature.PostCallback, error) {
			post := func(out string, collected []*metrics.Metrics, arts []*artifact.Artifact) (string, []*metrics.Metrics, []*artifact.Artifact, error) {
				return out, []*metrics.Metrics{metrics.Reduce(collected, metrics.Avg)}, arts, nil
			}
			return nil, []feature.PostCallback{post}, nil
		},
	})
}

type fakeFrontend struct{ m *FakeModule }

func (f *fakeFrontend) Name() string { return FakeFrontend }

func (f *fakeFrontend) Load(_ context.Context, mdl *model.Model) (artifact.Buckets, error) {
	f.m.record("LOAD", mdl.Name)
	arts := artifact.Buckets{}
	arts.Add(artifact.DefaultBucket, artifact.NewText(mdl.Name+".ir", "model "+mdl.Name, artifact.FlagModel))
	return arts, nil
}

type fakeBackend struct {
	m    *FakeModule
	name string
	opt  string
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Build(ctx context.Context, ir []*artifact.Artifact) (artifact.Buckets, error) {
	if d := b.m.BuildDelay[b.name]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if slices.Contains(b.m.FailBackends, b.name) {
		b.m.record("BUILD", b.name)
		return nil, fmt.Errorf("backend %s: code generation failed", b.name)
	}
	if len(ir) == 0 {
		return nil, fmt.Errorf("backend %s: no input", b.name)
	}
	code := fmt.Sprintf("// backend %s -O%s\n// %s\n", b.name, b.opt, ir[0].Text())
	b.m.record("BUILD", b.name)
	arts := artifact.Buckets{}
	arts.Add(artifact.DefaultBucket, artifact.NewText("default.c", code, artifact.FlagSource))
	return arts, nil
}

type fakeCompiler struct{ m *FakeModule }

func (c *fakeCompiler) Name() string { return FakeCompiler }

func (c *fakeCompiler) Compile(_ context.Context, code []*artifact.Artifact, t flow.Target) (artifact.Buckets, error) {
	src := artifact.Find(code, artifact.FlagSource)
	if src == nil {
		return nil, fmt.Errorf("compiler %s: no sources", FakeCompiler)
	}
	c.m.record("COMPILE", t.Name())
	arts := artifact.Buckets{}
	arts.Add(artifact.DefaultBucket, artifact.NewBinary("generic_mlif", append([]byte("#!/bin/true\n"), src.Content...), artifact.FlagExecutable))
	return arts, nil
}

type fakeTarget struct {
	*target.Base
	m *FakeModule
}

func (t *fakeTarget) Toolchain() flow.Toolchain { return flow.Toolchain{CC: "cc"} }

// Exec reports the program size as its cycle count.
func (t *fakeTarget) Exec(_ context.Context, program string, _ []string, _ string) (string, error) {
	data, err := os.ReadFile(program)
	if err != nil {
		return "", err
	}
	t.m.record("RUN", FakeTarget)
	return fmt.Sprintf("Total Cycles: %d\n", len(data)), nil
}

func (t *fakeTarget) Parse(out string) (*metrics.Metrics, error) {
	return target.ParseCycles(FakeTarget, out)
}

// FakeModel returns an in-memory model reference accepted by the fake frontend.
func FakeModel(name string) *model.Model {
	return &model.Model{Name: name, Path: name + "." + FakeFormat, Format: FakeFormat}
}
