package cache

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrEmptyCache means setup has never populated the cache.
	ErrEmptyCache = errors.New("dependency cache is empty, run `mcubench setup` first")
	// ErrMiss is wrapped by MissError.
	ErrMiss = errors.New("dependency cache miss")
)

// MissError reports a lookup for a key that no setup task produced.
type MissError struct {
	Key Key
}

func (e *MissError) Error() string {
	return fmt.Sprintf("dependency cache miss for required key %s, try re-running `mcubench setup`", e.Key)
}

func (e *MissError) Unwrap() error { return ErrMiss }

// Key identifies a cache entry. Build it with NewKey so flags are normalized.
type Key struct {
	Name  string
	flags string
}

// NewKey returns the key for name under the given flags. Flag order and
// duplicates do not matter.
func NewKey(name string, flags ...string) Key {
	normalized := make([]string, 0, len(flags))
	for _, f := range flags {
		if f = strings.TrimSpace(f); f != "" {
			normalized = append(normalized, f)
		}
	}
	slices.Sort(normalized)
	normalized = slices.Compact(normalized)
	return Key{Name: name, flags: strings.Join(normalized, ",")}
}

// Flags returns the normalized flag list.
func (k Key) Flags() []string {
	if k.flags == "" {
		return []string{}
	}
	return strings.Split(k.flags, ",")
}

func (k Key) String() string {
	return fmt.Sprintf("%q [%s]", k.Name, k.flags)
}

// Entry is a single cache record.
type Entry struct {
	Key   Key
	Value any
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]any
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[Key]any)}
}

// Set stores value under (name, flags). Values must be a string, bool,
// integer or float.
func (c *Cache) Set(name string, flags []string, value any) error {
	v, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("cache key %q: %w", name, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[NewKey(name, flags...)] = v
	return nil
}

// Get returns the value stored under (name, flags).
func (c *Cache) Get(name string, flags ...string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[NewKey(name, flags...)]
	return v, ok
}

// Has reports whether (name, flags) is present.
func (c *Cache) Has(name string, flags ...string) bool {
	_, ok := c.Get(name, flags...)
	return ok
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Lookup is Get for required keys. It returns ErrEmptyCache when nothing was
// ever stored and a *MissError when only this key is absent.
func (c *Cache) Lookup(name string, flags ...string) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return nil, ErrEmptyCache
	}
	key := NewKey(name, flags...)
	v, ok := c.entries[key]
	if !ok {
		return nil, &MissError{Key: key}
	}
	return v, nil
}

// Entries returns all records sorted by name, then flags.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for k, v := range c.entries {
		out = append(out, Entry{Key: k, Value: v})
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return cmp.Or(cmp.Compare(a.Key.Name, b.Key.Name), cmp.Compare(a.Key.flags, b.Key.flags))
	})
	return out
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case string, bool, int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	default:
		return nil, fmt.Errorf("unsupported cache value type %T", value)
	}
}

// finite rejects NaN and infinities, which the cache file cannot encode.
func finite(v float64) (any, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("unsupported cache value %v", v)
	}
	return v, nil
}
