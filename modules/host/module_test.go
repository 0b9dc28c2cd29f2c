package host

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/mcubench/internal/artifact"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/execute"
	"github.com/vk/mcubench/internal/flow"
	"github.com/vk/mcubench/internal/registry"
	"github.com/vk/mcubench/internal/target"
	"github.com/vk/mcubench/internal/testutil"
	"github.com/vk/mcubench/modules/benchmark"
)

func newHost(t *testing.T, cfg config.Map) flow.Target {
	t.Helper()
	ctx, _ := testutil.Context(t)
	r, err := registry.Build(&Module{}, &benchmark.Module{})
	require.NoError(t, err)
	c, err := r.Target(TargetName)
	require.NoError(t, err)

	full := c.Spec.Defaults.Clone()
	for k, v := range cfg {
		full[k] = v
	}
	tgt, err := c.New(ctx, full, nil)
	require.NoError(t, err)
	return tgt
}

func script(body string) *artifact.Artifact {
	return artifact.NewBinary("generic_mlif", []byte("#!/bin/sh\n"+body+"\n"), artifact.FlagExecutable)
}

func TestGenerate(t *testing.T) {
	testCases := []struct {
		name       string
		body       string
		wantCycles bool
	}{
		{name: "reports cycles", body: `echo "Total Cycles: 77"`, wantCycles: true},
		{name: "runtime only", body: `printf "done"`, wantCycles: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, _ := testutil.Context(t)
			tgt := newHost(t, nil)

			_, mets, err := tgt.Generate(ctx, script(tc.body))

			require.NoError(t, err)
			m := mets.Default()
			assert.True(t, m.Has(RuntimeMetric))
			assert.True(t, m.Has(target.StageTimeMetric))
			assert.Equal(t, tc.wantCycles, m.Has("Total Cycles"))
		})
	}
}

func TestGenerate_Failures(t *testing.T) {
	ctx, _ := testutil.Context(t)

	_, _, err := newHost(t, nil).Generate(ctx, script("exit 3"))
	var exitErr *execute.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)

	_, _, err = newHost(t, config.Map{"timeout_sec": "0.2"}).Generate(ctx, script("exec sleep 5"))
	var timeoutErr *execute.TimeoutError
	assert.True(t, errors.As(err, &timeoutErr))
}

func TestToolchain(t *testing.T) {
	tgt := newHost(t, config.Map{"cc": "clang", "cflags": "-O2 -march=native"})
	tc := tgt.Toolchain()
	assert.Equal(t, "clang", tc.CC)
	assert.Equal(t, []string{"-O2", "-march=native"}, tc.CFlags)
	assert.Equal(t, []string{"-lm"}, tc.LDFlags)
}

func TestParse(t *testing.T) {
	h := &Target{}
	_, err := h.Parse("no timing here")
	var perr *target.MetricsParseError
	assert.True(t, errors.As(err, &perr))

	m, err := h.Parse("Total Cycles: 5\nRuntime [s]: 0.250000\n")
	require.NoError(t, err)
	v, _ := m.Get(RuntimeMetric)
	assert.Equal(t, 0.25, v)
	assert.Equal(t, []string{"Total Cycles", RuntimeMetric}, m.Names(false))
}
