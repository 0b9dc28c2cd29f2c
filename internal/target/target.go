// Package target implements the generic part of running a compiled program
// on a target: repetition, per-invocation scratch directories, feature
// callbacks, metric reduction and stage timing. Concrete targets only
// provide how to launch the program and how to read its output.
package target

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/vk/mcubench/internal/artifact"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/vk/mcubench/internal/execute"
	"github.com/vk/mcubench/internal/feature"
	"github.com/vk/mcubench/internal/metrics"
)

// StageTimeMetric is the host wall-clock time of the whole RUN stage.
const StageTimeMetric = "Run Stage Time [s]"

// ErrUnreducedMetrics means more than one metrics object was left after the
// post callbacks ran. A repeating target needs a reducing callback.
var ErrUnreducedMetrics = errors.New("collected target metrics for multiple runs, aggregate them in a callback")

// AggregationError wraps ErrUnreducedMetrics with the number of objects left.
type AggregationError struct {
	Target string
	Count  int
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("target %s: %v (got %d)", e.Target, ErrUnreducedMetrics, e.Count)
}

func (e *AggregationError) Unwrap() error { return ErrUnreducedMetrics }

// MetricsParseError is returned when expected output is missing.
type MetricsParseError struct {
	Target  string
	Pattern string
}

func (e *MetricsParseError) Error() string {
	return fmt.Sprintf("target %s: could not find %q in program output", e.Target, e.Pattern)
}

// Executor is implemented by concrete targets.
type Executor interface {
	// Exec runs program once with args inside the invocation's scratch dir.
	Exec(ctx context.Context, program string, args []string, dir string) (string, error)
	// Parse extracts metrics from the output of one invocation.
	Parse(out string) (*metrics.Metrics, error)
}

// Defaults are the config defaults every target accepts.
var Defaults = config.Map{
	"repeat":        0,
	"print_outputs": false,
	"timeout_sec":   0,
}

// WithDefaults returns Defaults extended by a target's own settings.
func WithDefaults(own config.Map) config.Map {
	out := Defaults.Clone()
	for k, v := range own {
		out[k] = v
	}
	return out
}

// Base implements Generate for a concrete Executor.
type Base struct {
	name         string
	Repeat       int
	PrintOutputs bool
	Timeout      time.Duration
	// TempDir is where working directories are created; empty uses the
	// system default.
	TempDir string
	// Output receives live program output when PrintOutputs is set.
	Output io.Writer
	Pre    []feature.PreCallback
	Post   []feature.PostCallback
	exec   Executor
}

// NewBase reads the shared target settings from cfg and collects the
// execution callbacks of the target features.
func NewBase(name string, cfg config.Map, features []*feature.Feature, exec Executor) (*Base, error) {
	repeat, err := cfg.Int("repeat")
	if err != nil {
		return nil, err
	}
	if repeat < 0 {
		return nil, fmt.Errorf("target %s: repeat must be >= 0, got %d", name, repeat)
	}
	printOutputs, err := cfg.Bool("print_outputs")
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Float("timeout_sec")
	if err != nil {
		return nil, err
	}

	b := &Base{
		name:         name,
		Repeat:       repeat,
		PrintOutputs: printOutputs,
		Timeout:      time.Duration(timeout * float64(time.Second)),
		Output:       os.Stdout,
		exec:         exec,
	}
	for _, f := range feature.Matching(features, feature.Target) {
		if f.Definition().TargetCallbacks == nil {
			continue
		}
		pre, post, err := f.Definition().TargetCallbacks(f, name)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", f.Name(), err)
		}
		b.Pre = append(b.Pre, pre...)
		b.Post = append(b.Post, post...)
	}
	return b, nil
}

// Name returns the target name.
func (b *Base) Name() string { return b.name }

// Command builds an execute.Command honoring the timeout and output settings.
func (b *Base) Command(path string, args []string, dir string) execute.Command {
	return execute.Command{
		Path:    path,
		Args:    args,
		Dir:     dir,
		Timeout: b.Timeout,
		Live:    b.PrintOutputs,
		Output:  b.Output,
	}
}

// Generate runs exe 1+Repeat times and returns the artifacts and metrics of
// the stage. Only the last invocation's output is kept.
func (b *Base) Generate(ctx context.Context, exe *artifact.Artifact) (artifact.Buckets, metrics.Buckets, error) {
	logger := ctxlog.FromContext(ctx).With("target", b.name)
	start := time.Now()

	workDir, err := os.MkdirTemp(b.TempDir, b.name+"-")
	if err != nil {
		return nil, nil, err
	}
	defer os.RemoveAll(workDir)

	program, err := exe.Export(workDir)
	if err != nil {
		return nil, nil, err
	}

	total := 1 + b.Repeat
	var (
		out       string
		collected []*metrics.Metrics
		arts      []*artifact.Artifact
	)
	for i := range total {
		scratch, err := os.MkdirTemp(workDir, "invocation-")
		if err != nil {
			return nil, nil, err
		}
		var args []string
		for _, cb := range b.Pre {
			args = cb(scratch, args)
		}

		logger.Debug("Invoking program.", "invocation", i+1, "total", total)
		out, err = b.exec.Exec(ctx, program, args, scratch)
		if err != nil {
			return nil, nil, err
		}
		m, err := b.exec.Parse(out)
		if err != nil {
			return nil, nil, err
		}
		collected = append(collected, m)
	}

	for _, cb := range b.Post {
		out, collected, arts, err = cb(out, collected, arts)
		if err != nil {
			return nil, nil, fmt.Errorf("target %s post callback: %w", b.name, err)
		}
	}
	if len(collected) != 1 {
		return nil, nil, &AggregationError{Target: b.name, Count: len(collected)}
	}

	arts = append(arts, artifact.NewText(b.name+"_out.log", out))
	m := collected[0]
	m.Add(StageTimeMetric, time.Since(start).Seconds(), true)

	artBuckets := artifact.Buckets{}
	artBuckets.Add(artifact.DefaultBucket, arts...)
	metBuckets := metrics.Buckets{metrics.DefaultBucket: m}
	for _, label := range metBuckets.Labels() {
		artBuckets.Add(label, artifact.NewTable("run_metrics.csv", metBuckets[label].ToCSV(true), artifact.FlagMetrics))
	}
	return artBuckets, metBuckets, nil
}

var cyclesPattern = regexp.MustCompile(`Total Cycles: (\d+)`)

// ParseCycles reads the `Total Cycles: N` line printed by the benchmark
// harness into the "Total Cycles" metric.
func ParseCycles(target, out string) (*metrics.Metrics, error) {
	match := cyclesPattern.FindStringSubmatch(out)
	if match == nil {
		return nil, &MetricsParseError{Target: target, Pattern: cyclesPattern.String()}
	}
	cycles, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return nil, &MetricsParseError{Target: target, Pattern: cyclesPattern.String()}
	}
	m := metrics.New()
	m.Add("Total Cycles", float64(cycles), false)
	return m, nil
}
