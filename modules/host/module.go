// Package host registers the machine running mcubench as a target. Programs
// are compiled with the native C compiler and executed directly.
package host

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/execute"
	"github.com/vk/mcubench/internal/feature"
	"github.com/vk/mcubench/internal/flow"
	"github.com/vk/mcubench/internal/metrics"
	"github.com/vk/mcubench/internal/registry"
	"github.com/vk/mcubench/internal/target"
	"github.com/vk/mcubench/modules/benchmark"
)

const (
	// TargetName is the registered target name.
	TargetName = "host_x86"
	// RuntimeMetric is the wall-clock time of one program invocation.
	RuntimeMetric = "Runtime [s]"
)

var runtimePattern = regexp.MustCompile(`Runtime \[s\]: ([0-9.eE+-]+)`)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the target.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterTarget(flow.Spec{
		Name:     TargetName,
		Features: []string{benchmark.FeatureName},
		Defaults: target.WithDefaults(config.Map{
			"cc":      "cc",
			"cflags":  "",
			"ldflags": "-lm",
		}),
	}, newTarget)
}

// Target executes programs natively.
type Target struct {
	*target.Base
	toolchain flow.Toolchain
}

func newTarget(_ context.Context, cfg config.Map, features []*feature.Feature) (flow.Target, error) {
	t := &Target{toolchain: flow.Toolchain{
		CC:      cfg.String("cc"),
		CFlags:  strings.Fields(cfg.String("cflags")),
		LDFlags: strings.Fields(cfg.String("ldflags")),
	}}
	base, err := target.NewBase(TargetName, cfg, features, t)
	if err != nil {
		return nil, err
	}
	t.Base = base
	return t, nil
}

// Toolchain returns the native compiler.
func (t *Target) Toolchain() flow.Toolchain { return t.toolchain }

// Exec runs the program and appends its wall-clock runtime to the output.
func (t *Target) Exec(ctx context.Context, program string, args []string, dir string) (string, error) {
	start := time.Now()
	out, err := execute.Run(ctx, t.Command(program, args, dir))
	if err != nil {
		return "", err
	}
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out + fmt.Sprintf("%s: %.6f\n", RuntimeMetric, time.Since(start).Seconds()), nil
}

// Parse reads the runtime and, when the program reports it, the cycle count.
func (t *Target) Parse(out string) (*metrics.Metrics, error) {
	m, err := target.ParseCycles(TargetName, out)
	if err != nil {
		m = metrics.New()
	}
	match := runtimePattern.FindStringSubmatch(out)
	if match == nil {
		return nil, &target.MetricsParseError{Target: TargetName, Pattern: runtimePattern.String()}
	}
	seconds, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil, fmt.Errorf("target %s: parsing runtime %q: %w", TargetName, match[1], err)
	}
	m.Add(RuntimeMetric, seconds, false)
	return m, nil
}
