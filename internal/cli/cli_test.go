package cli

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/mcubench/internal/app"
)

func TestParse_FlowCommand(t *testing.T) {
	// --- Arrange ---
	args := []string{
		"--home", "/envs/default", "--log-level", "DEBUG",
		"run", "sine",
		"--backend", "tvmaot", "--backend", "tvmaotplus",
		"--target", "spike,host_x86",
		"--feature", "vext", "-c", "spike.vlen=128", "--config", "num_runs=3",
		"--parallel", "4", "--progress", "resnet",
	}
	out := &bytes.Buffer{}

	// --- Act ---
	cfg, exit, err := Parse(args, out)

	// --- Assert ---
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, app.CommandRun, cfg.Command)
	assert.Equal(t, "/envs/default", cfg.Home)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, []string{"sine", "resnet"}, cfg.Models)
	assert.Equal(t, []string{"tvmaot", "tvmaotplus"}, cfg.Backends)
	assert.Equal(t, []string{"spike", "host_x86"}, cfg.Targets)
	assert.Equal(t, []string{"vext"}, cfg.Features)
	assert.Equal(t, []string{"spike.vlen=128", "num_runs=3"}, cfg.ConfigPairs)
	assert.Equal(t, 4, cfg.Parallel)
	assert.True(t, cfg.Progress)
}

func TestParse_Parallel(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		want int
	}{
		{name: "absent", args: []string{"build", "sine"}, want: 0},
		{name: "bare", args: []string{"build", "--parallel", "sine"}, want: runtime.NumCPU()},
		{name: "bare at the end", args: []string{"build", "sine", "--parallel"}, want: runtime.NumCPU()},
		{name: "separate value", args: []string{"build", "--parallel", "3", "sine"}, want: 3},
		{name: "joined value", args: []string{"build", "--parallel=2", "sine"}, want: 2},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, _, err := Parse(tc.args, &bytes.Buffer{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.Parallel)
			assert.Equal(t, []string{"sine"}, cfg.Models)
		})
	}
}

func TestParse_Setup(t *testing.T) {
	cfg, exit, err := Parse([]string{"--hint", "dev", "setup", "--rebuild", "--verbose"}, &bytes.Buffer{})

	require.NoError(t, err)
	assert.False(t, exit)
	assert.Equal(t, app.CommandSetup, cfg.Command)
	assert.Equal(t, "dev", cfg.Home)
	assert.True(t, cfg.Rebuild)
	assert.True(t, cfg.Verbose)
	assert.Empty(t, cfg.Models)
}

func TestParse_ResumeWithoutModels(t *testing.T) {
	cfg, _, err := Parse([]string{"run", "--resume"}, &bytes.Buffer{})

	require.NoError(t, err)
	assert.True(t, cfg.Resume)
}

func TestParse_Help(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"run", "--help"}} {
		out := &bytes.Buffer{}
		cfg, exit, err := Parse(args, out)

		require.NoError(t, err)
		assert.True(t, exit)
		assert.Nil(t, cfg)
		assert.Contains(t, out.String(), "Usage:")
	}
}

func TestParse_UsageErrors(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		wantMsg string
	}{
		{name: "unknown command", args: []string{"deploy"}, wantMsg: `unknown command "deploy"`},
		{name: "unknown flag", args: []string{"run", "--turbo", "sine"}, wantMsg: "flag provided but not defined"},
		{name: "missing model", args: []string{"build"}, wantMsg: "at least one model"},
		{name: "setup with models", args: []string{"setup", "sine"}, wantMsg: "takes no arguments"},
		{name: "bad parallel", args: []string{"run", "--parallel=-1", "sine"}, wantMsg: "non-negative"},
		{name: "bad log format", args: []string{"--log-format", "xml", "run", "sine"}, wantMsg: "invalid log-format"},
		{name: "bad log level", args: []string{"--log-level", "trace", "run", "sine"}, wantMsg: "invalid log-level"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, exit, err := Parse(tc.args, &bytes.Buffer{})

			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.False(t, exit)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.wantMsg)
		})
	}
}

func TestParse_DoubleDashEndsFlags(t *testing.T) {
	cfg, _, err := Parse([]string{"load", "--", "--odd-model-name"}, &bytes.Buffer{})

	require.NoError(t, err)
	assert.Equal(t, []string{"--odd-model-name"}, cfg.Models)
}
