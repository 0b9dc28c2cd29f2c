// Package flow defines the contracts between the run pipeline and the
// components that do the actual work in each stage.
package flow

import (
	"context"

	"github.com/vk/mcubench/internal/artifact"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/feature"
	"github.com/vk/mcubench/internal/metrics"
	"github.com/vk/mcubench/internal/model"
)

// Frontend turns a model file into the artifacts a backend consumes (LOAD).
type Frontend interface {
	Name() string
	Load(ctx context.Context, m *model.Model) (artifact.Buckets, error)
}

// Backend lowers the frontend output into source code (BUILD).
type Backend interface {
	Name() string
	Build(ctx context.Context, ir []*artifact.Artifact) (artifact.Buckets, error)
}

// Compiler turns generated code into an executable for a target (COMPILE).
// The executable must carry the artifact.FlagExecutable flag.
type Compiler interface {
	Name() string
	Compile(ctx context.Context, code []*artifact.Artifact, t Target) (artifact.Buckets, error)
}

// Target executes a compiled program and measures it (RUN).
type Target interface {
	Name() string
	Toolchain() Toolchain
	Generate(ctx context.Context, exe *artifact.Artifact) (artifact.Buckets, metrics.Buckets, error)
}

// Toolchain tells a compiler how to build for a target.
type Toolchain struct {
	CC     string
	CFlags []string
	// LDFlags are appended after the sources.
	LDFlags []string
}

// Spec describes a component's configuration surface.
type Spec struct {
	Name string
	// Features lists the supported features of the component's category.
	Features []string
	Defaults config.Map
	// Required keys are fully qualified and resolved from the dependency
	// cache when missing from the run config.
	Required []string
	Optional []string
	// Formats lists the model file formats a frontend accepts.
	Formats []string
}

// Factory constructs a component from its filtered configuration and the
// features that matched its category.
type Factory[T any] func(ctx context.Context, cfg config.Map, features []*feature.Feature) (T, error)
