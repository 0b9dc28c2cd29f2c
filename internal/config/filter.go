package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vk/mcubench/internal/ctxlog"
)

// ErrMissingRequired is returned when a component is constructed without a
// value for one of its required keys.
var ErrMissingRequired = errors.New("missing required config")

// Filter returns the configuration view of the component called prefix.
//
// Keys of the form `<prefix>.<name>` are returned as `<name>` when name is a
// declared default or optional key. Required keys are matched and returned by
// their full name since they usually live in another namespace (for example
// a target requiring `riscv_gcc.install_dir`). Unknown keys in the prefix
// namespace are dropped with a warning.
func Filter(ctx context.Context, cfg Map, prefix string, defaults Map, optional, required []string) (Map, error) {
	logger := ctxlog.FromContext(ctx)
	out := Map{}
	for k, v := range defaults {
		out[k] = v
	}

	for _, key := range cfg.Keys() {
		value := cfg[key]
		if slices.Contains(required, key) {
			out[key] = value
			continue
		}
		name, ok := strings.CutPrefix(key, prefix+".")
		if !ok {
			continue
		}
		if _, known := defaults[name]; known || slices.Contains(optional, name) || slices.Contains(required, name) {
			out[name] = value
			continue
		}
		logger.Warn("Ignoring unknown config key.", "component", prefix, "key", key)
	}

	for _, key := range required {
		if _, ok := out[key]; !ok {
			return nil, fmt.Errorf("%w: %s requires %q", ErrMissingRequired, prefix, key)
		}
	}
	return out, nil
}
