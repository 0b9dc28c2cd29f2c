package config

import (
	"errors"
	"fmt"

	"github.com/vk/mcubench/internal/cache"
)

// ResolveRequired looks up every required key that is not set in cfg. Values
// come from the dependency cache, queried with the cache flags requested by the
// active features for that key (see feature.CacheFlags). The returned map
// holds only the newly resolved keys.
//
// The empty-cache and cache-miss conditions are returned as the cache
// package's errors so callers can tell the operator to run setup.
func ResolveRequired(required []string, flags map[string][]string, cfg Map, c *cache.Cache) (Map, error) {
	resolved := Map{}
	for _, key := range required {
		if cfg.Has(key) {
			continue
		}
		if c == nil {
			return nil, fmt.Errorf("resolving %q: %w", key, cache.ErrEmptyCache)
		}
		value, err := c.Lookup(key, flags[key]...)
		if errors.Is(err, cache.ErrEmptyCache) {
			return nil, fmt.Errorf("resolving %q: %w", key, err)
		}
		if err != nil {
			return nil, err
		}
		resolved[key] = value
	}
	return resolved, nil
}
