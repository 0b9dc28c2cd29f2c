package app

import (
	"errors"
	"fmt"
	"slices"

	"github.com/vk/mcubench/internal/run"
)

// Command names the operation an App performs.
type Command string

const (
	CommandSetup   Command = "setup"
	CommandLoad    Command = "load"
	CommandBuild   Command = "build"
	CommandCompile Command = "compile"
	CommandRun     Command = "run"
)

// Commands lists the commands in pipeline order.
var Commands = []Command{CommandSetup, CommandLoad, CommandBuild, CommandCompile, CommandRun}

// Stage returns the last stage executed by a flow command. The run command
// includes postprocessing.
func (c Command) Stage() (run.Stage, bool) {
	switch c {
	case CommandLoad:
		return run.StageLoad, true
	case CommandBuild:
		return run.StageBuild, true
	case CommandCompile:
		return run.StageCompile, true
	case CommandRun:
		return run.StagePostprocess, true
	}
	return run.StageNone, false
}

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Command Command
	// Home is the environment home or the name of an environment. Empty
	// falls back to MCUBENCH_HOME and the working directory.
	Home string

	Models    []string
	Frontends []string
	Backends  []string
	Targets   []string
	Compiler  string
	Features  []string
	// ConfigPairs are raw KEY=VALUE settings.
	ConfigPairs []string
	// Parallel is the number of workers. 0 runs sequentially.
	Parallel int
	Progress bool
	Resume   bool
	Rebuild  bool
	Verbose  bool

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
}

// NewConfig validates cfg.
func NewConfig(cfg Config) (*Config, error) {
	if !slices.Contains(Commands, cfg.Command) {
		return nil, fmt.Errorf("unknown command %q (available: %v)", cfg.Command, Commands)
	}
	if _, flow := cfg.Command.Stage(); flow && len(cfg.Models) == 0 && !cfg.Resume {
		return nil, errors.New("at least one model is required unless resuming a session")
	}
	if cfg.Parallel < 0 {
		return nil, fmt.Errorf("parallel must not be negative, got %d", cfg.Parallel)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort)
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return &cfg, nil
}
