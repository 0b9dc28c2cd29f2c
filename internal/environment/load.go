package environment

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/ctxlog"
)

// fileRoot is the schema of environment.hcl.
type fileRoot struct {
	Paths      *pathsBlock       `hcl:"paths,block"`
	Defaults   *defaultsBlock    `hcl:"defaults,block"`
	Frameworks []string          `hcl:"frameworks,optional"`
	Toolchains []string          `hcl:"toolchains,optional"`
	Features   []string          `hcl:"features,optional"`
	Vars       map[string]string `hcl:"vars,optional"`
	Progress   *progressBlock    `hcl:"progress,block"`
	Exports    []exportBlock     `hcl:"export,block"`
}

type pathsBlock struct {
	Deps   string   `hcl:"deps,optional"`
	Temp   string   `hcl:"temp,optional"`
	Models []string `hcl:"models,optional"`
}

type defaultsBlock struct {
	Frontends []string `hcl:"frontends,optional"`
	Backends  []string `hcl:"backends,optional"`
	Targets   []string `hcl:"targets,optional"`
	Compiler  string   `hcl:"compiler,optional"`
}

type progressBlock struct {
	URL       string `hcl:"socketio_url"`
	Namespace string `hcl:"namespace,optional"`
	Event     string `hcl:"event,optional"`
}

type exportBlock struct {
	Kind      string `hcl:"kind,label"`
	Endpoint  string `hcl:"endpoint,optional"`
	Bucket    string `hcl:"bucket,optional"`
	Prefix    string `hcl:"prefix,optional"`
	Region    string `hcl:"region,optional"`
	AccessKey string `hcl:"access_key,optional"`
	SecretKey string `hcl:"secret_key,optional"`
	UseSSL    bool   `hcl:"use_ssl,optional"`
	URL       string `hcl:"url,optional"`
	Table     string `hcl:"table,optional"`
}

// Load reads environment.hcl from home. A missing file yields the defaults.
func Load(ctx context.Context, home string) (*Environment, error) {
	logger := ctxlog.FromContext(ctx)
	path := filepath.Join(home, FileName)

	var root fileRoot
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Debug("No environment file found, using defaults.", "home", home)
	case err != nil:
		return nil, fmt.Errorf("reading environment file: %w", err)
	default:
		file, diags := hclparse.NewParser().ParseHCL(data, path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse environment file %s: %w", path, diags)
		}
		if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode environment file %s: %w", path, diags)
		}
	}

	env := fromRoot(home, &root)
	if err := env.validate(); err != nil {
		return nil, err
	}
	logger.Debug("Environment loaded.", "home", home, "deps", env.Paths.Deps, "vars", len(env.Vars))
	return env, nil
}

func fromRoot(home string, root *fileRoot) *Environment {
	env := &Environment{
		Home: home,
		Paths: Paths{
			Deps:   filepath.Join(home, "deps"),
			Temp:   filepath.Join(home, "temp"),
			Models: []string{filepath.Join(home, "models")},
		},
		Defaults: Defaults{
			Frontends: []string{"tflite"},
			Backends:  []string{"tvmaot"},
			Targets:   []string{"host_x86"},
			Compiler:  "mlif",
		},
		Frameworks: root.Frameworks,
		Toolchains: root.Toolchains,
		Features:   root.Features,
		Vars:       config.Map{},
	}

	if p := root.Paths; p != nil {
		if p.Deps != "" {
			env.Paths.Deps = abs(home, p.Deps)
		}
		if p.Temp != "" {
			env.Paths.Temp = abs(home, p.Temp)
		}
		if len(p.Models) > 0 {
			env.Paths.Models = nil
			for _, m := range p.Models {
				env.Paths.Models = append(env.Paths.Models, abs(home, m))
			}
		}
	}
	if d := root.Defaults; d != nil {
		if len(d.Frontends) > 0 {
			env.Defaults.Frontends = d.Frontends
		}
		if len(d.Backends) > 0 {
			env.Defaults.Backends = d.Backends
		}
		if len(d.Targets) > 0 {
			env.Defaults.Targets = d.Targets
		}
		if d.Compiler != "" {
			env.Defaults.Compiler = d.Compiler
		}
	}
	for k, v := range root.Vars {
		env.Vars[k] = v
	}
	if p := root.Progress; p != nil {
		env.Progress = &Progress{URL: p.URL, Namespace: p.Namespace, Event: p.Event}
		if env.Progress.Namespace == "" {
			env.Progress.Namespace = "/"
		}
		if env.Progress.Event == "" {
			env.Progress.Event = "progress"
		}
	}
	for _, e := range root.Exports {
		env.Exports = append(env.Exports, Export(e))
	}
	return env
}

func (e *Environment) validate() error {
	for _, exp := range e.Exports {
		switch exp.Kind {
		case "objectstore":
			if exp.Endpoint == "" || exp.Bucket == "" {
				return errors.New(`export "objectstore" requires endpoint and bucket`)
			}
		case "postgres":
			if exp.URL == "" {
				return errors.New(`export "postgres" requires url`)
			}
		default:
			return fmt.Errorf("unknown export kind %q", exp.Kind)
		}
	}
	return nil
}

func abs(home, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(home, path)
}
