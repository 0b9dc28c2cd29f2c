package environment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/vk/mcubench/internal/cache"
	"github.com/vk/mcubench/internal/config"
)

const (
	// HomeEnvVar selects the active environment.
	HomeEnvVar = "MCUBENCH_HOME"
	// FileName is the environment file inside the home directory.
	FileName = "environment.hcl"
)

// ErrNoEnvironment is returned when no environment home can be found.
var ErrNoEnvironment = errors.New("no environment found")

// Environment is the loaded environment. Paths are absolute.
type Environment struct {
	Home       string
	Paths      Paths
	Defaults   Defaults
	Frameworks []string
	Toolchains []string
	Features   []string
	// Vars are low-priority config values and task overrides.
	Vars     config.Map
	Progress *Progress
	Exports  []Export
}

// Paths are the environment directories.
type Paths struct {
	Deps   string
	Temp   string
	Models []string
}

// Defaults are used when a command does not name components explicitly.
type Defaults struct {
	Frontends []string
	Backends  []string
	Targets   []string
	Compiler  string
}

// Progress configures remote progress reporting over socket.io.
type Progress struct {
	URL       string
	Namespace string
	Event     string
}

// Export configures a result exporter. Kind is "objectstore" or "postgres".
type Export struct {
	Kind      string
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	URL       string
	Table     string
}

// ResolveHome finds the environment home. hint may be a directory or the
// name of an environment below the user config directory.
func ResolveHome(hint string) (string, error) {
	if hint != "" {
		if isDir(hint) {
			return filepath.Abs(hint)
		}
		if dir, err := namedEnvironment(hint); err == nil && isDir(dir) {
			return dir, nil
		}
		return "", fmt.Errorf("%w: %q is neither a directory nor a known environment", ErrNoEnvironment, hint)
	}
	if home := os.Getenv(HomeEnvVar); home != "" {
		if !isDir(home) {
			return "", fmt.Errorf("%w: %s=%s does not exist", ErrNoEnvironment, HomeEnvVar, home)
		}
		return filepath.Abs(home)
	}
	dir, err := namedEnvironment("default")
	if err != nil || !isDir(dir) {
		return "", fmt.Errorf("%w: set %s or pass --home", ErrNoEnvironment, HomeEnvVar)
	}
	return dir, nil
}

func namedEnvironment(name string) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "mcubench", "environments", name), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// HasFramework reports whether a framework is enabled.
func (e *Environment) HasFramework(name string) bool { return slices.Contains(e.Frameworks, name) }

// HasToolchain reports whether a toolchain is enabled.
func (e *Environment) HasToolchain(name string) bool { return slices.Contains(e.Toolchains, name) }

// HasFeature reports whether a feature is enabled for setup.
func (e *Environment) HasFeature(name string) bool { return slices.Contains(e.Features, name) }

// CachePath is the dependency cache file location.
func (e *Environment) CachePath() string { return filepath.Join(e.Paths.Deps, cache.FileName) }

// SessionsDir holds session checkpoints and artifacts.
func (e *Environment) SessionsDir() string { return filepath.Join(e.Paths.Temp, "sessions") }

// Var returns an environment variable from the vars block.
func (e *Environment) Var(key string) (string, bool) {
	if !e.Vars.Has(key) {
		return "", false
	}
	return e.Vars.String(key), true
}
