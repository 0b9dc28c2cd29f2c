package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"strings"

	"github.com/vk/mcubench/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// listFlag collects every occurrence of a repeatable flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*l = append(*l, item)
		}
	}
	return nil
}

// parallelFlag accepts a bare --parallel (one worker per CPU) or a count.
type parallelFlag int

func (p *parallelFlag) String() string { return strconv.Itoa(int(*p)) }

func (p *parallelFlag) IsBoolFlag() bool { return true }

func (p *parallelFlag) Set(v string) error {
	if v == "true" {
		*p = parallelFlag(runtime.NumCPU())
		return nil
	}
	if v == "false" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fmt.Errorf("expected a non-negative worker count, got %q", v)
	}
	*p = parallelFlag(n)
	return nil
}

const globalUsage = `
mcubench - Benchmark ML models on microcontroller targets.

Usage:
  mcubench [global options] <command> [options] [MODEL...]

Commands:
  setup     Install the dependencies of the environment.
  load      Load models with their frontends.
  build     Generate code with the selected backends.
  compile   Compile the generated code for the selected targets.
  run       Run the programs and report their metrics.

Global options:
`

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	global := flag.NewFlagSet("mcubench", flag.ContinueOnError)
	global.SetOutput(output)
	global.Usage = func() {
		fmt.Fprint(output, globalUsage)
		global.PrintDefaults()
	}

	var home string
	global.StringVar(&home, "home", "", "Environment directory or name. Defaults to $MCUBENCH_HOME.")
	global.StringVar(&home, "hint", "", "Alias for --home.")
	logFormatFlag := global.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := global.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	healthPortFlag := global.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")

	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError("%s", err)
	}
	if global.NArg() == 0 {
		slog.Debug("No command provided, printing usage and exiting.")
		global.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, usageError("invalid log-format: must be 'text' or 'json'")
	}
	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}

	cfg := app.Config{
		Command:         app.Command(global.Arg(0)),
		Home:            home,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		HealthcheckPort: *healthPortFlag,
	}

	var fs *flag.FlagSet
	switch cfg.Command {
	case app.CommandSetup:
		fs = setupFlags(&cfg, output)
	case app.CommandLoad, app.CommandBuild, app.CommandCompile, app.CommandRun:
		fs = flowFlags(&cfg, output)
	default:
		return nil, false, usageError("unknown command %q (available: %v)", global.Arg(0), app.Commands)
	}

	positional, err := parseInterspersed(fs, normalizeParallel(global.Args()[1:]))
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError("%s", err)
	}
	if cfg.Command == app.CommandSetup && len(positional) > 0 {
		return nil, false, usageError("setup takes no arguments, got %v", positional)
	}
	cfg.Models = positional
	slog.Debug("Arguments parsed successfully.", "command", cfg.Command, "models", cfg.Models)

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, usageError("%s", err)
	}
	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}

func setupFlags(cfg *app.Config, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("mcubench setup", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, "\nUsage:\n  mcubench setup [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	fs.BoolVar(&cfg.Rebuild, "rebuild", false, "Redo tasks whose results are already in place.")
	fs.BoolVar(&cfg.Progress, "progress", false, "Display a progress bar.")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Print the output of external tools.")
	return fs
}

func flowFlags(cfg *app.Config, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("mcubench "+string(cfg.Command), flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(output, "\nUsage:\n  mcubench %s [options] MODEL...\n\nOptions:\n", cfg.Command)
		fs.PrintDefaults()
	}
	fs.Var((*listFlag)(&cfg.Frontends), "frontend", "Frontend to load models with. Repeatable.")
	fs.Var((*listFlag)(&cfg.Backends), "backend", "Backend to generate code with. Repeatable.")
	fs.Var((*listFlag)(&cfg.Targets), "target", "Target to compile for and run on. Repeatable.")
	fs.Var((*listFlag)(&cfg.Features), "feature", "Feature to enable. Repeatable.")
	fs.Var((*listFlag)(&cfg.ConfigPairs), "config", "KEY=VALUE setting. Repeatable.")
	fs.Var((*listFlag)(&cfg.ConfigPairs), "c", "Shorthand for --config.")
	fs.StringVar(&cfg.Compiler, "compiler", "", "Compiler used for every target.")
	fs.Var((*parallelFlag)(&cfg.Parallel), "parallel", "Number of workers. Without a value one per CPU.")
	fs.BoolVar(&cfg.Progress, "progress", false, "Display a progress bar.")
	fs.BoolVar(&cfg.Resume, "resume", false, "Continue the latest session instead of starting a new one.")
	return fs
}

// normalizeParallel joins `--parallel N` into `--parallel=N` since a flag
// that may stand alone never consumes the next argument.
func normalizeParallel(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return append(out, args[i:]...)
		}
		if (a == "--parallel" || a == "-parallel") && i+1 < len(args) {
			if _, err := strconv.Atoi(args[i+1]); err == nil {
				out = append(out, a+"="+args[i+1])
				i++
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// parseInterspersed parses flags that may appear before or after positional
// arguments and returns the positional arguments in order.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		if len(args) > len(rest) && args[len(args)-len(rest)-1] == "--" {
			return append(positional, rest...), nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}
