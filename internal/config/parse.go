package config

import (
	"fmt"
	"strings"

	"dario.cat/mergo"
)

// ParseKeyValues turns `KEY=VALUE` pairs into a Map. Values stay strings.
// A later pair overrides an earlier one with the same key.
func ParseKeyValues(pairs []string) (Map, error) {
	out := Map{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid config %q: expected KEY=VALUE", pair)
		}
		out[key] = value
	}
	return out, nil
}

// Layer merges the given maps into a new one. Earlier maps take precedence:
// a key set by an earlier layer is never replaced by a later one.
func Layer(layers ...Map) (Map, error) {
	out := Map{}
	for _, l := range layers {
		if len(l) == 0 {
			continue
		}
		if err := mergo.Merge(&out, l.Clone()); err != nil {
			return nil, fmt.Errorf("merging config layers: %w", err)
		}
	}
	return out, nil
}
